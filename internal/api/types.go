package api

import (
	"time"

	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/queue"
)

// RunSummary is the JSON projection of a run for list endpoints.
type RunSummary struct {
	ID          string            `json:"id"`
	Pipeline    string            `json:"pipeline"`
	Axis        map[string]string `json:"axis"`
	Status      string            `json:"status"`
	Event       string            `json:"event"`
	Reference   string            `json:"reference,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	FailedStep  *string           `json:"failed_step,omitempty"`
}

// RunDetail extends RunSummary with the trigger event and step results.
type RunDetail struct {
	RunSummary
	Trigger   event.Event  `json:"trigger"`
	LastError *string      `json:"last_error,omitempty"`
	Steps     []StepDetail `json:"steps"`
}

// StepDetail is the JSON projection of one step result.
type StepDetail struct {
	Index       int        `json:"index"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      string     `json:"output,omitempty"`
}

// PipelineSummary describes one loaded pipeline definition.
type PipelineSummary struct {
	Name        string              `json:"name"`
	Matrix      map[string][]string `json:"matrix,omitempty"`
	Steps       []string            `json:"steps"`
	Fingerprint string              `json:"fingerprint"`
}

// EventResponse is returned by POST /event.
type EventResponse struct {
	EventID string   `json:"event_id"`
	Runs    []string `json:"runs"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func summarizeRun(r *queue.Run) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Pipeline:    r.Pipeline,
		Axis:        r.Axis,
		Status:      string(r.Status),
		Event:       string(r.Trigger.Kind),
		Reference:   r.Trigger.Reference(),
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		FailedStep:  r.FailedStep,
	}
}
