// Package inspect builds run reports from the persisted run history.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/queue"
)

// RunStore provides the run history access the report needs.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*queue.Run, error)
	StepsForRun(ctx context.Context, runID string) ([]queue.StepResult, error)
}

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID       string            `json:"run_id"`
	Pipeline    string            `json:"pipeline"`
	Fingerprint string            `json:"fingerprint"`
	Axis        map[string]string `json:"axis,omitempty"`
	Status      string            `json:"status"`
	SubmittedBy string            `json:"submitted_by"`
	Trigger     event.Event       `json:"trigger"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    string            `json:"duration,omitempty"`
	FailedStep  string            `json:"failed_step,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Steps       []StepReport      `json:"steps"`
}

// StepReport is one step entry in a run report.
type StepReport struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	Duration    string `json:"duration,omitempty"`
	OutputTail  string `json:"output_tail,omitempty"`
	OutputBytes int    `json:"output_bytes"`
}

const outputTailLines = 20

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, store RunStore, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Pipeline    : %s\n", report.Pipeline)
	if len(report.Axis) > 0 {
		fmt.Fprintf(&out, "Matrix      : %s\n", formatAxis(report.Axis))
	}
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Trigger     : %s", report.Trigger.Kind)
	if ref := report.Trigger.Reference(); ref != "" {
		fmt.Fprintf(&out, " (%s)", ref)
	}
	fmt.Fprintf(&out, "\n")
	fmt.Fprintf(&out, "Submitted   : %s via %s\n", report.CreatedAt.Format(time.RFC3339), report.SubmittedBy)
	if report.Duration != "" {
		fmt.Fprintf(&out, "Duration    : %s\n", report.Duration)
	}
	if report.FailedStep != "" {
		fmt.Fprintf(&out, "Failed step : %s\n", report.FailedStep)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s :: %s", step.Index, step.Name, step.Status)
		if step.ExitCode != nil {
			fmt.Fprintf(&out, " (exit %d)", *step.ExitCode)
		}
		if step.Duration != "" {
			fmt.Fprintf(&out, " [%s]", step.Duration)
		}
		fmt.Fprintf(&out, "\n")
		if step.OutputTail != "" {
			for _, line := range strings.Split(strings.TrimRight(step.OutputTail, "\n"), "\n") {
				fmt.Fprintf(&out, "    %s\n", line)
			}
		}
	}

	if report.LastError != "" {
		fmt.Fprintf(&out, "\nError: %s\n", report.LastError)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, store RunStore, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store RunStore, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		Fingerprint: run.Fingerprint,
		Axis:        run.Axis,
		Status:      string(run.Status),
		SubmittedBy: run.SubmittedBy,
		Trigger:     run.Trigger,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Steps:       make([]StepReport, 0),
	}
	if run.FailedStep != nil {
		report.FailedStep = *run.FailedStep
	}
	if run.LastError != nil {
		report.LastError = *run.LastError
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		report.Duration = run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
	}

	steps, err := store.StepsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load step results: %w", err)
	}
	for _, step := range steps {
		sr := StepReport{
			Index:       step.Index,
			Name:        step.Name,
			Status:      string(step.Status),
			ExitCode:    step.ExitCode,
			OutputTail:  tailLines(step.Output, outputTailLines),
			OutputBytes: len(step.Output),
		}
		if step.StartedAt != nil && step.CompletedAt != nil {
			sr.Duration = step.CompletedAt.Sub(*step.StartedAt).Round(time.Millisecond).String()
		}
		report.Steps = append(report.Steps, sr)
	}

	return report, nil
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func formatAxis(axis map[string]string) string {
	keys := make([]string, 0, len(axis))
	for k := range axis {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, axis[k]))
	}
	return strings.Join(parts, " ")
}
