// Package doctor validates slipway configuration and pipeline definitions.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/pipeline"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against loaded pipelines.
type Doctor struct {
	cfg *config.Config
	set *pipeline.Set
}

// New creates a Doctor from a loaded config and compiled pipeline set.
func New(cfg *config.Config, set *pipeline.Set) *Doctor {
	if set == nil {
		set = &pipeline.Set{Pipelines: map[string]*pipeline.Pipeline{}}
	}
	return &Doctor{cfg: cfg, set: set}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateTrigger(r)
	d.validateRegistry(r)
	d.validatePipelines(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.PipelinesDir == "" {
		d.addError(r, "service", "pipelines_dir", "pipelines_dir is required")
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Service.Workers <= 0 {
		d.addError(r, "service", "service.workers", "workers must be positive")
	}
	if d.cfg.Service.StepTimeout <= 0 {
		d.addError(r, "service", "service.step_timeout", "step_timeout must be positive")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

var knownScopes = map[string]bool{
	"*":          true,
	"runs:ro":    true,
	"runs:rw":    true,
	"trigger:rw": true,
	"events:ro":  true,
}

// validateTokenScopes checks that configured token scopes are recognised.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, tok := range d.cfg.API.Auth.Tokens {
		if tok.Token == "" {
			d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i), "token value is empty")
		}
		if len(tok.Scopes) == 0 {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i), "token has no scopes and grants nothing")
		}
		for _, scope := range tok.Scopes {
			if !knownScopes[scope] {
				d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// validateTrigger checks webhook trigger endpoint settings.
func (d *Doctor) validateTrigger(r *Result) {
	if d.cfg.Trigger == nil {
		return
	}
	if d.cfg.Trigger.Listen == "" {
		d.addError(r, "trigger", "trigger.listen", "trigger.listen is required when trigger is configured")
	}
	if len(d.cfg.Trigger.Endpoints) == 0 {
		d.addWarning(r, "trigger", "trigger.endpoints", "trigger configured with no endpoints")
	}

	seen := map[string]bool{}
	for i, ep := range d.cfg.Trigger.Endpoints {
		field := fmt.Sprintf("trigger.endpoints[%d]", i)
		if ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
			d.addError(r, "trigger", field+".path", fmt.Sprintf("endpoint path %q must start with /", ep.Path))
		}
		if seen[ep.Path] {
			d.addError(r, "trigger", field+".path", fmt.Sprintf("duplicate endpoint path %q", ep.Path))
		}
		seen[ep.Path] = true
		if ep.Secret == "" {
			d.addWarning(r, "trigger", field+".secret", "endpoint has no secret; deliveries are unauthenticated")
		}
		if ep.Secret != "" && ep.SignatureHeader == "" {
			d.addError(r, "trigger", field+".signature_header", "signature_header is required when a secret is set")
		}
	}
}

// validateRegistry checks registry settings against publish usage.
func (d *Doctor) validateRegistry(r *Result) {
	hasPublish := false
	for _, p := range d.set.Pipelines {
		for _, step := range p.Steps {
			if step.Publish != nil {
				hasPublish = true
			}
		}
	}
	if !hasPublish {
		return
	}

	if d.cfg.Registry.Repository == "" {
		d.addError(r, "registry", "registry.repository",
			"registry.repository is required because a pipeline has a publish step")
	}
	if d.cfg.Registry.UsernameEnv != "" {
		if _, ok := os.LookupEnv(d.cfg.Registry.UsernameEnv); !ok {
			d.addWarning(r, "registry", "registry.username_env",
				fmt.Sprintf("environment variable %s is not set", d.cfg.Registry.UsernameEnv))
		}
	}
	if d.cfg.Registry.PasswordEnv != "" {
		if _, ok := os.LookupEnv(d.cfg.Registry.PasswordEnv); !ok {
			d.addWarning(r, "registry", "registry.password_env",
				fmt.Sprintf("environment variable %s is not set", d.cfg.Registry.PasswordEnv))
		}
	}
}

// validatePipelines checks the compiled pipeline set.
func (d *Doctor) validatePipelines(r *Result) {
	if len(d.set.Pipelines) == 0 {
		d.addWarning(r, "pipelines", "pipelines_dir", "no pipelines loaded; nothing will ever run")
		return
	}
	for _, name := range d.set.Names() {
		p := d.set.Pipelines[name]
		hasPublish := false
		for _, step := range p.Steps {
			if step.Publish != nil {
				hasPublish = true
			}
		}
		if hasPublish && len(p.Axes) > 0 {
			d.addWarning(r, "pipelines", name,
				"pipeline has a publish step and a matrix; every matrix entry will push an image")
		}
	}
}

var envRefPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// warnMissingEnvVars flags ${VAR} references that survived config expansion,
// which means the variable was unset at load time.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	if ref := envRefPattern.FindString(d.cfg.API.Auth.APIKey); ref != "" {
		d.addWarning(r, "env", "api.auth.api_key", fmt.Sprintf("unresolved reference %s", ref))
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		if ref := envRefPattern.FindString(tok.Token); ref != "" {
			d.addWarning(r, "env", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("unresolved reference %s", ref))
		}
	}
	if d.cfg.Trigger == nil {
		return
	}
	for i, ep := range d.cfg.Trigger.Endpoints {
		if ref := envRefPattern.FindString(ep.Secret); ref != "" {
			d.addWarning(r, "env", fmt.Sprintf("trigger.endpoints[%d].secret", i),
				fmt.Sprintf("unresolved reference %s", ref))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
