package executor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/events"
	"github.com/slipwayci/slipway/internal/pipeline"
	"github.com/slipwayci/slipway/internal/queue"
	"github.com/slipwayci/slipway/internal/storage"
)

type fakePublisher struct {
	calls []publishCall
	err   error
}

type publishCall struct {
	dockerfile string
	context    string
	ref        string
}

func (f *fakePublisher) Publish(_ context.Context, ev event.Event, dockerfile, buildContext string) error {
	f.calls = append(f.calls, publishCall{dockerfile: dockerfile, context: buildContext, ref: ev.Reference()})
	return f.err
}

func newTestExecutor(t *testing.T, specs []pipeline.PipelineSpec, pub Publisher) (*Executor, *queue.Queue) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	set, err := pipeline.CompileSpecs(specs)
	if err != nil {
		t.Fatalf("CompileSpecs: %v", err)
	}

	cfg := config.Defaults()
	cfg.Service.Workers = 1
	q := queue.New(db)
	return New(cfg, q, set, pub, events.NewHub(64)), q
}

func claimRun(t *testing.T, q *queue.Queue, req queue.EnqueueRequest) *queue.Run {
	t.Helper()
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	run, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if run == nil {
		t.Fatal("Dequeue returned nil run")
	}
	return run
}

func stepStatuses(t *testing.T, q *queue.Queue, runID string) []queue.StepStatus {
	t.Helper()
	steps, err := q.StepsForRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	out := make([]queue.StepStatus, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Status)
	}
	return out
}

func TestExecuteRunSequentialSuccess(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "ci",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "first", Run: "echo first"},
			{Name: "second", Run: "echo second"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	got, err := q.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != queue.StatusSucceeded {
		t.Fatalf("run status = %s, want succeeded (last_error=%v)", got.Status, got.LastError)
	}

	steps, err := q.StepsForRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	if len(steps) != 2 || steps[0].Name != "first" || steps[1].Name != "second" {
		t.Fatalf("unexpected steps: %#v", steps)
	}
	for _, s := range steps {
		if s.Status != queue.StepSucceeded {
			t.Fatalf("step %s status = %s", s.Name, s.Status)
		}
		if s.ExitCode == nil || *s.ExitCode != 0 {
			t.Fatalf("step %s exit code = %v", s.Name, s.ExitCode)
		}
	}
}

func TestExecuteRunHaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "ci",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "ok", Run: "echo ok"},
			{Name: "broken", Run: "echo boom; exit 3"},
			{Name: "never", Run: "echo never"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	got, err := q.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
	if got.FailedStep == nil || *got.FailedStep != "broken" {
		t.Fatalf("failed step = %v, want broken", got.FailedStep)
	}

	statuses := stepStatuses(t, q, run.ID)
	want := []queue.StepStatus{queue.StepSucceeded, queue.StepFailed, queue.StepSkipped}
	if len(statuses) != len(want) {
		t.Fatalf("got %d step records, want %d", len(statuses), len(want))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("step %d status = %s, want %s", i, statuses[i], want[i])
		}
	}

	steps, _ := q.StepsForRun(context.Background(), run.ID)
	if steps[1].ExitCode == nil || *steps[1].ExitCode != 3 {
		t.Fatalf("broken exit code = %v, want 3", steps[1].ExitCode)
	}
}

func TestExecuteRunGuardSkipsStep(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name:   "ci",
		On:     pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Matrix: map[string][]string{"toolchain": {"stable", "nightly"}},
		Steps: []pipeline.StepSpec{
			{Name: "format-check", Run: "echo fmt", If: "matrix.toolchain == 'nightly'"},
			{Name: "build", Run: "echo build"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	stable := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Axis:        map[string]string{"toolchain": "stable"},
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), stable)

	statuses := stepStatuses(t, q, stable.ID)
	if statuses[0] != queue.StepSkipped || statuses[1] != queue.StepSucceeded {
		t.Fatalf("stable statuses = %v", statuses)
	}
	got, _ := q.GetRun(context.Background(), stable.ID)
	if got.Status != queue.StatusSucceeded {
		t.Fatalf("skipped guard must not fail the run: %s", got.Status)
	}

	nightly := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Axis:        map[string]string{"toolchain": "nightly"},
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), nightly)

	statuses = stepStatuses(t, q, nightly.ID)
	if statuses[0] != queue.StepSucceeded {
		t.Fatalf("nightly format-check should run, got %v", statuses)
	}
}

func TestExecuteRunPublishStep(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "publish",
		On:   pipeline.TriggerSpec{Release: &pipeline.ReleaseFilter{Types: []string{"published"}}},
		Steps: []pipeline.StepSpec{
			{Name: "build-and-push", Publish: &pipeline.PublishSpec{Dockerfile: "Dockerfile", Context: "."}},
		},
	}}
	pub := &fakePublisher{}
	e, q := newTestExecutor(t, specs, pub)

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "publish",
		Trigger:     event.Event{Kind: event.KindRelease, ReleaseAction: "published", Tag: "v1.2.3"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	if len(pub.calls) != 1 {
		t.Fatalf("publisher called %d times, want 1", len(pub.calls))
	}
	call := pub.calls[0]
	if call.dockerfile != "Dockerfile" || call.context != "." || call.ref != "v1.2.3" {
		t.Fatalf("unexpected publish call: %#v", call)
	}

	got, _ := q.GetRun(context.Background(), run.ID)
	if got.Status != queue.StatusSucceeded {
		t.Fatalf("run status = %s", got.Status)
	}
}

func TestExecuteRunPublishFailureFailsRun(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "publish",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{Branches: []string{"main"}}},
		Steps: []pipeline.StepSpec{
			{Name: "build-and-push", Publish: &pipeline.PublishSpec{}},
		},
	}}
	pub := &fakePublisher{err: errors.New("registry authentication failed")}
	e, q := newTestExecutor(t, specs, pub)

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "publish",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	got, _ := q.GetRun(context.Background(), run.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
	if got.FailedStep == nil || *got.FailedStep != "build-and-push" {
		t.Fatalf("failed step = %v", got.FailedStep)
	}
}

func TestExecuteRunUnknownPipelineFails(t *testing.T) {
	t.Parallel()

	e, q := newTestExecutor(t, []pipeline.PipelineSpec{{
		Name:  "ci",
		On:    pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{{Name: "noop", Run: "true"}},
	}}, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "gone",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	got, _ := q.GetRun(context.Background(), run.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
}

func TestSpawnStepTimeout(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "slow",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "sleep", Run: "sleep 5", Timeout: 200 * time.Millisecond},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "slow",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})

	start := time.Now()
	e.executeRun(context.Background(), run)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout enforcement took too long: %v", elapsed)
	}

	statuses := stepStatuses(t, q, run.ID)
	if statuses[0] != queue.StepTimedOut {
		t.Fatalf("step status = %s, want timed_out", statuses[0])
	}
	got, _ := q.GetRun(context.Background(), run.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
}

func TestExecuteRunCancelledContextSkipsAllSteps(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "ci",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "one", Run: "echo one"},
			{Name: "two", Run: "echo two"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.executeRun(ctx, run)

	// Outcome writes must land despite the cancelled daemon context.
	statuses := stepStatuses(t, q, run.ID)
	want := []queue.StepStatus{queue.StepSkipped, queue.StepSkipped}
	if len(statuses) != len(want) {
		t.Fatalf("got %d step records, want %d", len(statuses), len(want))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("step %d status = %s, want %s", i, statuses[i], want[i])
		}
	}

	got, err := q.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != queue.StatusCanceled {
		t.Fatalf("run status = %s, want canceled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("canceled run missing completion timestamp")
	}
}

func TestExecuteRunShutdownStopsAfterCurrentStep(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "ci",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "slow", Run: "sleep 1; echo done"},
			{Name: "after", Run: "echo after"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(250 * time.Millisecond)
		cancel()
	}()
	e.executeRun(ctx, run)

	// The in-flight step finishes and its result is persisted; the
	// remainder is skipped instead of executing after shutdown.
	steps, err := q.StepsForRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d step records, want 2", len(steps))
	}
	if steps[0].Status != queue.StepSucceeded || steps[0].ExitCode == nil || *steps[0].ExitCode != 0 {
		t.Fatalf("slow step not recorded as succeeded: %#v", steps[0])
	}
	if steps[1].Status != queue.StepSkipped {
		t.Fatalf("after step status = %s, want skipped", steps[1].Status)
	}

	got, _ := q.GetRun(context.Background(), run.ID)
	if got.Status != queue.StatusCanceled {
		t.Fatalf("run status = %s, want canceled", got.Status)
	}
}

func TestExecuteRunPublishesStepFinishedForHaltSkips(t *testing.T) {
	t.Parallel()

	specs := []pipeline.PipelineSpec{{
		Name: "ci",
		On:   pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{
			{Name: "broken", Run: "exit 1"},
			{Name: "never", Run: "echo never"},
		},
	}}
	e, q := newTestExecutor(t, specs, &fakePublisher{})

	ch, cancelSub := e.hub.Subscribe()
	defer cancelSub()

	run := claimRun(t, q, queue.EnqueueRequest{
		Pipeline:    "ci",
		Trigger:     event.Event{Kind: event.KindPush, Branch: "main"},
		SubmittedBy: "test",
	})
	e.executeRun(context.Background(), run)

	finished := map[string]string{}
	for {
		var ev events.Event
		select {
		case ev = <-ch:
		default:
			ev = events.Event{}
		}
		if ev.Type == "" {
			break
		}
		if ev.Type != events.TypeStepFinished {
			continue
		}
		var data struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("unmarshal event payload: %v", err)
		}
		finished[data.Step] = data.Status
	}

	if finished["broken"] != string(queue.StepFailed) {
		t.Fatalf("broken step event = %q, want failed", finished["broken"])
	}
	if finished["never"] != string(queue.StepSkipped) {
		t.Fatalf("halt-skipped step must settle on the hub, got %q", finished["never"])
	}
}

func TestStepEnvExposesRunContext(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t, []pipeline.PipelineSpec{{
		Name:  "ci",
		On:    pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{{Name: "noop", Run: "true"}},
	}}, &fakePublisher{})

	run := &queue.Run{
		ID:       "run-1",
		Pipeline: "ci",
		Axis:     map[string]string{"toolchain": "beta"},
		Trigger:  event.Event{Kind: event.KindPush, Branch: "main", Commit: "deadbeef"},
	}
	step := pipeline.Step{Name: "noop", Run: "true", Env: map[string]string{"EXTRA": "1"}}

	env := e.stepEnv(run, step)
	want := []string{
		"SLIPWAY_RUN_ID=run-1",
		"SLIPWAY_PIPELINE=ci",
		"SLIPWAY_EVENT=push",
		"SLIPWAY_REF=main",
		"SLIPWAY_BRANCH=main",
		"SLIPWAY_COMMIT=deadbeef",
		"MATRIX_TOOLCHAIN=beta",
		"EXTRA=1",
	}
	for _, entry := range want {
		found := false
		for _, got := range env {
			if got == entry {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("env missing %q", entry)
		}
	}
}

func TestRedactMasksRegistryCredentials(t *testing.T) {
	t.Setenv("TEST_REG_USER", "alice")
	t.Setenv("TEST_REG_PASS", "hunter2")

	e, _ := newTestExecutor(t, []pipeline.PipelineSpec{{
		Name:  "ci",
		On:    pipeline.TriggerSpec{Push: &pipeline.PushFilter{}},
		Steps: []pipeline.StepSpec{{Name: "noop", Run: "true"}},
	}}, &fakePublisher{})
	e.cfg.Registry.UsernameEnv = "TEST_REG_USER"
	e.cfg.Registry.PasswordEnv = "TEST_REG_PASS"

	in := "login as alice with hunter2\n"
	got := e.redact(in)
	if got != "login as *** with ***\n" {
		t.Fatalf("redact: %q", got)
	}
}
