package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory
// containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	expandEnvRefs(cfg)

	// Resolve relative paths against the config file's directory.
	baseDir := filepath.Dir(absPath)
	if cfg.State.Path != "" && !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(baseDir, cfg.State.Path)
	}
	if cfg.PipelinesDir != "" && !filepath.IsAbs(cfg.PipelinesDir) {
		cfg.PipelinesDir = filepath.Join(baseDir, cfg.PipelinesDir)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $SLIPWAY_CONFIG_DIR, ~/.config/slipway, /etc/slipway, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("SLIPWAY_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "slipway")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/slipway"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $SLIPWAY_CONFIG_DIR, ~/.config/slipway, /etc/slipway, ./config.yaml)")
}

// expandEnvRefs resolves ${ENV_VAR} references in secret-bearing fields.
// Unset variables expand to the empty string; validation decides whether
// that is an error.
func expandEnvRefs(cfg *Config) {
	expand := func(s string) string {
		return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := envVarPattern.FindStringSubmatch(m)[1]
			return os.Getenv(name)
		})
	}

	cfg.API.Auth.APIKey = expand(cfg.API.Auth.APIKey)
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = expand(cfg.API.Auth.Tokens[i].Token)
	}
	if cfg.Trigger != nil {
		for i := range cfg.Trigger.Endpoints {
			cfg.Trigger.Endpoints[i].Secret = expand(cfg.Trigger.Endpoints[i].Secret)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.Workers <= 0 {
		return fmt.Errorf("service.workers must be positive, got %d", cfg.Service.Workers)
	}
	if cfg.Service.StepTimeout <= 0 {
		return fmt.Errorf("service.step_timeout must be positive, got %v", cfg.Service.StepTimeout)
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	if cfg.Trigger != nil {
		if cfg.Trigger.Listen == "" {
			return fmt.Errorf("trigger.listen is required when trigger endpoints are configured")
		}
		seen := make(map[string]struct{}, len(cfg.Trigger.Endpoints))
		for i, ep := range cfg.Trigger.Endpoints {
			if ep.Path == "" {
				return fmt.Errorf("trigger.endpoints[%d].path is required", i)
			}
			if _, dup := seen[ep.Path]; dup {
				return fmt.Errorf("trigger.endpoints[%d]: duplicate path %q", i, ep.Path)
			}
			seen[ep.Path] = struct{}{}
		}
	}
	return nil
}
