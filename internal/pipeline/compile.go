package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const defaultStepTimeout = 10 * time.Minute

// CompileSpecs compiles pipeline definitions into a validated Set.
func CompileSpecs(specs []PipelineSpec) (*Set, error) {
	out := &Set{Pipelines: make(map[string]*Pipeline)}

	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("pipelines[%d]: name is required", i)
		}
		if _, exists := out.Pipelines[name]; exists {
			return nil, fmt.Errorf("duplicate pipeline name %q", name)
		}

		compiled, err := compilePipeline(spec)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out.Pipelines[name] = compiled
	}

	return out, nil
}

func compilePipeline(spec PipelineSpec) (*Pipeline, error) {
	if err := validateTrigger(spec.On); err != nil {
		return nil, err
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("steps must be non-empty")
	}

	p := &Pipeline{
		Name:        strings.TrimSpace(spec.Name),
		Trigger:     spec.On,
		StepTimeout: spec.StepTimeout,
	}
	if p.StepTimeout == 0 {
		p.StepTimeout = defaultStepTimeout
	}

	if len(spec.Matrix) > 0 {
		p.Axes = make(map[string][]string, len(spec.Matrix))
		for axis, values := range spec.Matrix {
			axis = strings.TrimSpace(axis)
			if axis == "" {
				return nil, fmt.Errorf("matrix axis name is empty")
			}
			if len(values) == 0 {
				return nil, fmt.Errorf("matrix axis %q has no values", axis)
			}
			seen := make(map[string]struct{}, len(values))
			clean := make([]string, 0, len(values))
			for _, v := range values {
				v = strings.TrimSpace(v)
				if v == "" {
					return nil, fmt.Errorf("matrix axis %q has an empty value", axis)
				}
				if _, dup := seen[v]; dup {
					return nil, fmt.Errorf("matrix axis %q has duplicate value %q", axis, v)
				}
				seen[v] = struct{}{}
				clean = append(clean, v)
			}
			p.Axes[axis] = clean
		}
	}

	seenSteps := make(map[string]struct{}, len(spec.Steps))
	for i, stepSpec := range spec.Steps {
		step, err := compileStep(stepSpec, p)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if _, dup := seenSteps[step.Name]; dup {
			return nil, fmt.Errorf("steps[%d]: duplicate step name %q", i, step.Name)
		}
		seenSteps[step.Name] = struct{}{}
		p.Steps = append(p.Steps, step)
	}

	fingerprint, err := fingerprintPipeline(p)
	if err != nil {
		return nil, err
	}
	p.Fingerprint = fingerprint
	return p, nil
}

func compileStep(spec StepSpec, p *Pipeline) (Step, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Step{}, fmt.Errorf("name is required")
	}

	hasRun := strings.TrimSpace(spec.Run) != ""
	hasPublish := spec.Publish != nil
	if hasRun == hasPublish {
		return Step{}, fmt.Errorf("step %q: exactly one of run or publish must be set", name)
	}

	step := Step{
		Name:    name,
		Run:     strings.TrimSpace(spec.Run),
		Env:     spec.Env,
		Timeout: spec.Timeout,
	}
	if step.Timeout == 0 {
		step.Timeout = p.StepTimeout
	}
	if hasPublish {
		pub := *spec.Publish
		if pub.Dockerfile == "" {
			pub.Dockerfile = "Dockerfile"
		}
		if pub.Context == "" {
			pub.Context = "."
		}
		step.Publish = &pub
	}

	if spec.If != "" {
		guard, err := ParseGuard(spec.If)
		if err != nil {
			return Step{}, fmt.Errorf("step %q: %w", name, err)
		}
		if err := validateGuardField(guard, p); err != nil {
			return Step{}, fmt.Errorf("step %q: %w", name, err)
		}
		step.Guard = guard
	}

	return step, nil
}

func validateTrigger(t TriggerSpec) error {
	if t.Push == nil && t.PullRequest == nil && t.Release == nil {
		return fmt.Errorf("on: at least one of push, pull_request, release is required")
	}
	return nil
}

func validateGuardField(g *Guard, p *Pipeline) error {
	scope, field, ok := strings.Cut(g.Field, ".")
	if !ok {
		return fmt.Errorf("guard field %q must be matrix.<axis> or event.<field>", g.Field)
	}
	switch scope {
	case "matrix":
		if _, exists := p.Axes[field]; !exists {
			return fmt.Errorf("guard references unknown matrix axis %q", field)
		}
	case "event":
		switch field {
		case "kind", "branch", "target_branch", "release_action", "tag", "reference":
		default:
			return fmt.Errorf("guard references unknown event field %q", field)
		}
	default:
		return fmt.Errorf("guard field %q must be matrix.<axis> or event.<field>", g.Field)
	}
	return nil
}

// fingerprintPipeline hashes a normalized form of the compiled pipeline
// so definition drift is observable across restarts.
func fingerprintPipeline(p *Pipeline) (string, error) {
	type normStep struct {
		Name    string            `json:"name"`
		Run     string            `json:"run,omitempty"`
		Publish *PublishSpec      `json:"publish,omitempty"`
		Guard   string            `json:"guard,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Timeout string            `json:"timeout"`
	}
	type norm struct {
		Name    string      `json:"name"`
		Trigger TriggerSpec `json:"trigger"`
		Axes    [][2]any    `json:"axes,omitempty"`
		Steps   []normStep  `json:"steps"`
	}

	n := norm{Name: p.Name, Trigger: p.Trigger}

	axisNames := make([]string, 0, len(p.Axes))
	for axis := range p.Axes {
		axisNames = append(axisNames, axis)
	}
	sort.Strings(axisNames)
	for _, axis := range axisNames {
		n.Axes = append(n.Axes, [2]any{axis, p.Axes[axis]})
	}

	for _, s := range p.Steps {
		ns := normStep{
			Name:    s.Name,
			Run:     s.Run,
			Publish: s.Publish,
			Env:     s.Env,
			Timeout: s.Timeout.String(),
		}
		if s.Guard != nil {
			ns.Guard = s.Guard.Raw
		}
		n.Steps = append(n.Steps, ns)
	}

	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("fingerprint pipeline: %w", err)
	}
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}
