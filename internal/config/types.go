package config

import "time"

// Config represents the complete slipway configuration.
type Config struct {
	Service      ServiceConfig  `yaml:"service"`
	State        StateConfig    `yaml:"state"`
	API          APIConfig      `yaml:"api,omitempty"`
	Trigger      *TriggerConfig `yaml:"trigger,omitempty"`
	Registry     RegistryConfig `yaml:"registry,omitempty"`
	PipelinesDir string         `yaml:"pipelines_dir"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name        string        `yaml:"name"`
	LogLevel    string        `yaml:"log_level"`
	Workers     int           `yaml:"workers"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// TriggerConfig defines the webhook trigger listener.
type TriggerConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []TriggerEndpoint `yaml:"endpoints"`
}

// TriggerEndpoint defines a single webhook trigger endpoint.
type TriggerEndpoint struct {
	// Path is the URL path for this endpoint (e.g., "/hooks/github")
	Path string `yaml:"path"`

	// Secret is the HMAC secret for signature verification.
	// Supports ${ENV_VAR} references, resolved at load time.
	Secret string `yaml:"secret,omitempty"`

	// SignatureHeader is the HTTP header carrying the HMAC signature.
	// Example: "X-Hub-Signature-256" (GitHub).
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// RegistryConfig defines the container registry used by publish steps.
type RegistryConfig struct {
	// Host is the registry host (empty means Docker Hub).
	Host string `yaml:"host,omitempty"`

	// Repository is the fixed target repository identifier, e.g. "acme/battleship".
	Repository string `yaml:"repository"`

	// UsernameEnv / PasswordEnv name the environment variables holding
	// the registry credentials. Values are read at execution time and
	// never persisted.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "slipway",
			LogLevel:    "info",
			Workers:     4,
			StepTimeout: 10 * time.Minute,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Registry: RegistryConfig{
			UsernameEnv: "DOCKER_USERNAME",
			PasswordEnv: "DOCKER_PASSWORD",
		},
		PipelinesDir: "./pipelines",
	}
}
