// Package tui implements the interactive run browser.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2AA198"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type runRow struct {
	ID          string            `json:"id"`
	Pipeline    string            `json:"pipeline"`
	Axis        map[string]string `json:"axis"`
	Status      string            `json:"status"`
	Event       string            `json:"event"`
	Reference   string            `json:"reference"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	FailedStep  *string           `json:"failed_step"`
}

type runDetail struct {
	runRow
	LastError *string `json:"last_error"`
	Steps     []struct {
		Index       int        `json:"index"`
		Name        string     `json:"name"`
		Status      string     `json:"status"`
		ExitCode    *int       `json:"exit_code"`
		StartedAt   *time.Time `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at"`
		Output      string     `json:"output"`
	} `json:"steps"`
}

type runsMsg []runRow
type detailMsg *runDetail
type pollMsg time.Time
type errMsg error

// RunBrowser is the BubbleTea model for the interactive run list.
type RunBrowser struct {
	apiURL string
	apiKey string

	width  int
	height int

	runs     []runRow
	runTable table.Model
	detail   viewport.Model
	showing  string // run ID currently shown in the detail pane
	lastErr  string
}

// NewRunBrowser creates the run browser model.
func NewRunBrowser(apiURL, apiKey string) *RunBrowser {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Pipeline", Width: 20},
			{Title: "Matrix", Width: 16},
			{Title: "Event", Width: 12},
			{Title: "Ref", Width: 16},
			{Title: "ID", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &RunBrowser{
		apiURL:   apiURL,
		apiKey:   apiKey,
		runTable: t,
	}
}

func (m RunBrowser) Init() tea.Cmd {
	return tea.Batch(
		m.fetchRuns(),
		tea.EnterAltScreen,
	)
}

func (m RunBrowser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if row := m.runTable.SelectedRow(); row != nil {
				return m, m.fetchDetail(m.selectedRunID())
			}
		case "esc":
			m.showing = ""
			m.detail.SetContent("")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runTable.SetWidth(m.width - 6)
		m.detail.Width = m.width - 6
		m.detail.Height = m.height / 3

	case runsMsg:
		m.runs = msg
		m.updateTable()
		m.lastErr = ""
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return pollMsg(t)
		})

	case pollMsg:
		return m, m.fetchRuns()

	case detailMsg:
		if msg != nil {
			m.showing = msg.ID
			m.detail.SetContent(renderDetail(msg))
		}

	case errMsg:
		m.lastErr = msg.Error()
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return pollMsg(t)
		})
	}

	m.runTable, cmd = m.runTable.Update(msg)
	if m.showing != "" {
		var vpCmd tea.Cmd
		m.detail, vpCmd = m.detail.Update(msg)
		cmd = tea.Batch(cmd, vpCmd)
	}
	return m, cmd
}

func (m *RunBrowser) selectedRunID() string {
	idx := m.runTable.Cursor()
	if idx < 0 || idx >= len(m.runs) {
		return ""
	}
	return m.runs[idx].ID
}

func (m *RunBrowser) updateTable() {
	rows := make([]table.Row, 0, len(m.runs))
	for _, r := range m.runs {
		rows = append(rows, table.Row{
			statusSymbol(r.Status),
			r.Pipeline,
			axisLabel(r.Axis),
			r.Event,
			r.Reference,
			shortID(r.ID),
			runDuration(r),
		})
	}
	m.runTable.SetRows(rows)
}

func statusSymbol(status string) string {
	switch status {
	case "queued":
		return statusQueued.Render("○")
	case "running":
		return statusRunning.Render("◉")
	case "succeeded":
		return statusOK.Render("●")
	case "failed":
		return statusFailed.Render("∅")
	case "canceled":
		return statusQueued.Render("◌")
	default:
		return "○"
	}
}

func axisLabel(axis map[string]string) string {
	if len(axis) == 0 {
		return "-"
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
	return strings.Join(parts, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(r runRow) string {
	if r.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt).Round(time.Second).String()
}

func renderDetail(d *runDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s  %s %s  %s\n", d.ID, d.Pipeline, axisLabel(d.Axis), d.Status)
	if d.FailedStep != nil {
		fmt.Fprintf(&b, "Failed step: %s\n", *d.FailedStep)
	}
	if d.LastError != nil {
		fmt.Fprintf(&b, "Error: %s\n", *d.LastError)
	}
	b.WriteString("\n")
	for _, step := range d.Steps {
		fmt.Fprintf(&b, "[%d] %-20s %s", step.Index, step.Name, step.Status)
		if step.ExitCode != nil {
			fmt.Fprintf(&b, " (exit %d)", *step.ExitCode)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// --- View ---

func (m RunBrowser) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	runsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Runs"),
			m.runTable.View(),
		),
	)

	parts := []string{runsView}

	if m.showing != "" {
		detailView := borderStyle.Width(m.width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				titleStyle.Render("Run "+shortID(m.showing)),
				m.detail.View(),
			),
		)
		parts = append(parts, detailView)
	}

	if m.lastErr != "" {
		parts = append(parts, statusFailed.Render(" ⚠ "+m.lastErr))
	}

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate • [enter] Detail • [esc] Close")
	parts = append(parts, help)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// --- Commands ---

func (m RunBrowser) fetchRuns() tea.Cmd {
	return func() tea.Msg {
		var runs []runRow
		if err := m.getJSON("/runs?limit=50", &runs); err != nil {
			return errMsg(err)
		}
		return runsMsg(runs)
	}
}

func (m RunBrowser) fetchDetail(runID string) tea.Cmd {
	return func() tea.Msg {
		if runID == "" {
			return detailMsg(nil)
		}
		var d runDetail
		if err := m.getJSON("/run/"+runID, &d); err != nil {
			return errMsg(err)
		}
		return detailMsg(&d)
	}
}

func (m RunBrowser) getJSON(path string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest("GET", m.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
