package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/slipwayci/slipway/internal/events"
)

// PipelineState tracks a pipeline discovered from events.
type PipelineState struct {
	Name       string
	ActiveRuns map[string]*RunState
	LastStatus string // last finished run status
	LastRun    time.Time
}

// RunState tracks an individual pipeline run.
type RunState struct {
	ID          string
	Pipeline    string
	Axis        map[string]string
	Event       string
	CurrentStep string
	Status      string
	StartTime   time.Time
	EndTime     time.Time
}

// updateRunState processes an event and updates pipeline/run tracking.
func updateRunState(pipelines map[string]*PipelineState, runs map[string]*RunState, e events.Event) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	runID, _ := data["run_id"].(string)
	if runID == "" {
		return
	}

	switch e.Type {
	case events.TypeRunQueued, events.TypeRunStarted:
		run, ok := runs[runID]
		if !ok {
			run = &RunState{ID: runID}
			runs[runID] = run
		}

		if pipeline, ok := data["pipeline"].(string); ok {
			run.Pipeline = pipeline
		}
		if kind, ok := data["event"].(string); ok {
			run.Event = kind
		}
		if axis, ok := data["axis"].(map[string]any); ok {
			run.Axis = make(map[string]string, len(axis))
			for k, v := range axis {
				if s, ok := v.(string); ok {
					run.Axis[k] = s
				}
			}
		}

		if e.Type == events.TypeRunStarted {
			run.Status = "running"
			run.StartTime = time.Now()
		} else if run.Status == "" {
			run.Status = "queued"
		}

		if run.Pipeline != "" {
			p := getOrCreatePipeline(pipelines, run.Pipeline)
			p.ActiveRuns[runID] = run
		}

	case events.TypeStepStarted:
		run, ok := runs[runID]
		if !ok {
			return
		}
		if step, ok := data["step"].(string); ok {
			run.CurrentStep = step
		}

	case events.TypeRunFinished:
		run, ok := runs[runID]
		if !ok {
			return
		}
		status, _ := data["status"].(string)
		run.Status = status
		run.CurrentStep = ""
		run.EndTime = time.Now()

		if p, ok := pipelines[run.Pipeline]; ok {
			delete(p.ActiveRuns, runID)
			p.LastStatus = status
			p.LastRun = time.Now()
		}
	}
}

func getOrCreatePipeline(pipelines map[string]*PipelineState, name string) *PipelineState {
	p, ok := pipelines[name]
	if !ok {
		p = &PipelineState{
			Name:       name,
			ActiveRuns: make(map[string]*RunState),
		}
		pipelines[name] = p
	}
	return p
}

// sortedPipelineNames returns pipeline names in stable sorted order.
func sortedPipelineNames(pipelines map[string]*PipelineState) []string {
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderPipelines(pipelines map[string]*PipelineState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(pipelines) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("PIPELINES"),
			theme.Dim.Render("  No run activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	names := sortedPipelineNames(pipelines)

	var lines []string
	for i, name := range names {
		p := pipelines[name]
		line := renderPipelineRow(i+1, p, i == selected, theme)
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("PIPELINES")}, lines...)...,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func renderPipelineRow(num int, p *PipelineState, isSelected bool, theme Theme) string {
	activeCount := len(p.ActiveRuns)

	var statusStr string
	if activeCount > 0 {
		statusStr = theme.StatusRunning.Render(fmt.Sprintf("[%d active]", activeCount))
	} else {
		statusStr = theme.Dim.Render("[idle]")
	}

	var lastRunStr string
	if !p.LastRun.IsZero() {
		ago := time.Since(p.LastRun).Round(time.Second)
		icon := statusIcon(p.LastStatus, theme)
		lastRunStr = fmt.Sprintf("Last: %s %s", formatAgo(ago), icon)
	}

	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %d. %s  %s  %s",
		num,
		nameStyle.Render(fmt.Sprintf("%-24s", p.Name)),
		statusStr,
		lastRunStr,
	))

	// Show active runs underneath
	if activeCount > 0 {
		for _, id := range sortedRunIDs(p.ActiveRuns) {
			run := p.ActiveRuns[id]
			duration := "-"
			if !run.StartTime.IsZero() {
				duration = time.Since(run.StartTime).Round(time.Second).String()
			}

			runID := run.ID
			if len(runID) > 8 {
				runID = runID[:8]
			}

			desc := run.Status
			if run.CurrentStep != "" {
				desc = run.CurrentStep
			}
			if axis := formatAxis(run.Axis); axis != "" {
				desc = axis + " " + desc
			}

			runLine := fmt.Sprintf("    └─ Run %s: %s %s",
				theme.Highlight.Render(runID),
				desc,
				theme.Dim.Render(duration),
			)
			line.WriteString("\n" + runLine)
		}
	}

	return line.String()
}

func sortedRunIDs(runs map[string]*RunState) []string {
	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func formatAxis(axis map[string]string) string {
	if len(axis) == 0 {
		return ""
	}
	keys := make([]string, 0, len(axis))
	for k := range axis {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, axis[k])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func statusIcon(status string, theme Theme) string {
	switch status {
	case "succeeded":
		return theme.StatusOK.Render("✅")
	case "failed":
		return theme.StatusFailed.Render("❌")
	case "canceled":
		return theme.Dim.Render("∅")
	default:
		return ""
	}
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
