package queue

import (
	"errors"
	"time"

	"github.com/slipwayci/slipway/internal/event"
)

// Status is a pipeline run status.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// StepStatus is the outcome of a single step within a run.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepTimedOut  StepStatus = "timed_out"
)

// Run is one execution instance of a pipeline for a specific trigger
// and matrix axis assignment.
type Run struct {
	ID          string
	Pipeline    string
	Fingerprint string
	Axis        map[string]string
	Trigger     event.Event
	Status      Status
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedStep  *string
	LastError   *string
}

// EnqueueRequest describes a run to be queued.
type EnqueueRequest struct {
	Pipeline    string
	Fingerprint string
	Axis        map[string]string
	Trigger     event.Event
	SubmittedBy string
}

// StepResult records the outcome of one executed (or skipped) step.
type StepResult struct {
	RunID       string
	Index       int
	Name        string
	Status      StepStatus
	ExitCode    *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Output      string
}

var ErrRunNotFound = errors.New("run not found")
