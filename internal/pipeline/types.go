package pipeline

import "time"

// FileSpec is one YAML file containing one or more pipelines.
type FileSpec struct {
	Pipelines []PipelineSpec `yaml:"pipelines"`
}

// PipelineSpec defines a single pipeline entry in YAML.
type PipelineSpec struct {
	Name        string              `yaml:"name"`
	On          TriggerSpec         `yaml:"on"`
	Matrix      map[string][]string `yaml:"matrix,omitempty"`
	Steps       []StepSpec          `yaml:"steps"`
	StepTimeout time.Duration       `yaml:"step_timeout,omitempty"`
}

// TriggerSpec declares which events start a pipeline. At least one
// filter must be set; a pipeline fires if any set filter accepts the
// event.
type TriggerSpec struct {
	Push        *PushFilter        `yaml:"push,omitempty"`
	PullRequest *PullRequestFilter `yaml:"pull_request,omitempty"`
	Release     *ReleaseFilter     `yaml:"release,omitempty"`
}

// PushFilter accepts push events. Branches are glob patterns; empty
// means any branch.
type PushFilter struct {
	Branches []string `yaml:"branches,omitempty"`
}

// PullRequestFilter accepts pull_request events by target branch
// pattern; empty means any target.
type PullRequestFilter struct {
	Branches []string `yaml:"branches,omitempty"`
}

// ReleaseFilter accepts release events by action; empty means any.
type ReleaseFilter struct {
	Types []string `yaml:"types,omitempty"`
}

// StepSpec is one DSL step. Exactly one execution field must be set:
// - run (shell command)
// - publish (container image build-and-push)
type StepSpec struct {
	Name    string            `yaml:"name"`
	Run     string            `yaml:"run,omitempty"`
	Publish *PublishSpec      `yaml:"publish,omitempty"`
	If      string            `yaml:"if,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// PublishSpec configures an image publication step. The target
// repository and credentials come from the registry configuration.
type PublishSpec struct {
	Dockerfile string `yaml:"dockerfile,omitempty"`
	Context    string `yaml:"context,omitempty"`
}

// Pipeline is a compiled, validated pipeline definition.
type Pipeline struct {
	Name        string
	Trigger     TriggerSpec
	Axes        map[string][]string
	Steps       []Step
	StepTimeout time.Duration
	Fingerprint string // blake3:<hex> of normalized compiled form.
}

// Step is one compiled step.
type Step struct {
	Name    string
	Run     string
	Publish *PublishSpec
	Guard   *Guard
	Env     map[string]string
	Timeout time.Duration
}

// Set is a compiled collection of pipelines keyed by name.
type Set struct {
	Pipelines map[string]*Pipeline
}

// Names returns pipeline names in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.Pipelines))
	for name := range s.Pipelines {
		out = append(out, name)
	}
	sortStrings(out)
	return out
}

// RunPlan is one planned execution of a pipeline: the pipeline plus a
// single matrix axis assignment. Each axis combination yields an
// independent run.
type RunPlan struct {
	Pipeline *Pipeline
	Axis     map[string]string
}
