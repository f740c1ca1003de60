package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/events"
	"github.com/slipwayci/slipway/internal/log"
	"github.com/slipwayci/slipway/internal/pipeline"
	"github.com/slipwayci/slipway/internal/queue"
)

const (
	// maxOutputBytes caps the amount of combined output captured per step.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// pollInterval is how often an idle worker checks the queue.
	pollInterval = 1 * time.Second
)

// Publisher pushes a container image for a publish step.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event, dockerfile, buildContext string) error
}

// Executor claims queued runs and executes their steps sequentially.
type Executor struct {
	queue     *queue.Queue
	set       *pipeline.Set
	publisher Publisher
	hub       *events.Hub
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates an Executor.
func New(cfg *config.Config, q *queue.Queue, set *pipeline.Set, pub Publisher, hub *events.Hub) *Executor {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Executor{
		queue:     q,
		set:       set,
		publisher: pub,
		hub:       hub,
		cfg:       cfg,
		logger:    log.WithComponent("executor"),
	}
}

// Start runs the worker pool until ctx is cancelled. Workers execute
// runs in parallel; steps within a run stay sequential on one worker.
func (e *Executor) Start(ctx context.Context) error {
	workers := e.cfg.Service.Workers
	if workers <= 0 {
		workers = 1
	}
	e.logger.Info("executor started", "workers", workers)
	defer e.logger.Info("executor stopped")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Executor) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := e.queue.Dequeue(ctx)
			if err != nil {
				e.logger.Error("dequeue failed", "worker", worker, "error", err)
				continue
			}
			if run == nil {
				continue
			}
			e.executeRun(ctx, run)
		}
	}
}

// executeRun drives one run through its step sequence. Outcome writes
// use a detached context so the current step's result survives daemon
// shutdown.
func (e *Executor) executeRun(ctx context.Context, run *queue.Run) {
	runLogger := log.WithRun(run.ID).With("pipeline", run.Pipeline)
	runLogger.Info("run started", "axis", run.Axis, "trigger", string(run.Trigger.Kind))
	e.hub.Publish(events.TypeRunStarted, runSummary(run))

	recCtx := context.WithoutCancel(ctx)

	p := e.set.Pipelines[run.Pipeline]
	if p == nil {
		errMsg := fmt.Sprintf("pipeline %q not found in loaded definitions", run.Pipeline)
		runLogger.Error(errMsg)
		e.completeRun(recCtx, run, queue.StatusFailed, nil, &errMsg)
		return
	}
	if run.Fingerprint != "" && run.Fingerprint != p.Fingerprint {
		runLogger.Warn("pipeline definition changed since run was queued",
			"queued_fingerprint", run.Fingerprint, "loaded_fingerprint", p.Fingerprint)
	}

	var (
		failed     bool
		canceled   bool
		failedStep string
		lastError  string
	)

	for i, step := range p.Steps {
		if failed || canceled {
			e.recordStep(recCtx, runLogger, queue.StepResult{
				RunID: run.ID, Index: i, Name: step.Name, Status: queue.StepSkipped,
			})
			e.hub.Publish(events.TypeStepFinished, stepSummary(run, step.Name, queue.StepSkipped))
			continue
		}

		// A cancelled daemon context stops the run between steps; the
		// remainder is recorded skipped so nothing re-executes later.
		if ctx.Err() != nil {
			canceled = true
			runLogger.Warn("shutdown requested, skipping remaining steps", "next_step", step.Name)
			e.recordStep(recCtx, runLogger, queue.StepResult{
				RunID: run.ID, Index: i, Name: step.Name, Status: queue.StepSkipped,
			})
			e.hub.Publish(events.TypeStepFinished, stepSummary(run, step.Name, queue.StepSkipped))
			continue
		}

		if step.Guard != nil && !step.Guard.Eval(run.Axis, run.Trigger) {
			runLogger.Debug("step skipped by guard", "step", step.Name, "guard", step.Guard.Raw)
			e.recordStep(recCtx, runLogger, queue.StepResult{
				RunID: run.ID, Index: i, Name: step.Name, Status: queue.StepSkipped,
			})
			e.hub.Publish(events.TypeStepFinished, stepSummary(run, step.Name, queue.StepSkipped))
			continue
		}

		e.hub.Publish(events.TypeStepStarted, stepSummary(run, step.Name, ""))
		res := e.runStep(ctx, run, i, step, runLogger)
		e.recordStep(recCtx, runLogger, res)
		e.hub.Publish(events.TypeStepFinished, stepSummary(run, step.Name, res.Status))

		if res.Status != queue.StepSucceeded {
			failed = true
			failedStep = step.Name
			lastError = res.Output
			if lastError == "" {
				lastError = fmt.Sprintf("step %q %s", step.Name, res.Status)
			}
			runLogger.Warn("step failed, halting run", "step", step.Name, "status", string(res.Status))
		}
	}

	switch {
	case failed:
		e.completeRun(recCtx, run, queue.StatusFailed, &failedStep, &lastError)
	case canceled:
		msg := "daemon shutdown before remaining steps"
		runLogger.Info("run canceled")
		e.completeRun(recCtx, run, queue.StatusCanceled, nil, &msg)
	default:
		runLogger.Info("run succeeded")
		e.completeRun(recCtx, run, queue.StatusSucceeded, nil, nil)
	}
}

// runStep executes one step and returns its result.
func (e *Executor) runStep(ctx context.Context, run *queue.Run, index int, step pipeline.Step, runLogger *slog.Logger) queue.StepResult {
	started := time.Now().UTC()
	res := queue.StepResult{
		RunID:     run.ID,
		Index:     index,
		Name:      step.Name,
		StartedAt: &started,
	}
	runLogger.Info("step started", "step", step.Name)

	var (
		output   string
		exitCode int
		err      error
	)

	if step.Publish != nil {
		err = e.publisher.Publish(ctx, run.Trigger, step.Publish.Dockerfile, step.Publish.Context)
		if err != nil {
			output = err.Error()
			exitCode = 1
		}
	} else {
		output, exitCode, err = e.spawnStep(ctx, run, step, runLogger)
	}

	completed := time.Now().UTC()
	res.CompletedAt = &completed
	res.Output = e.redact(truncateOutput(output))
	res.ExitCode = &exitCode

	switch {
	case err == context.DeadlineExceeded:
		res.Status = queue.StepTimedOut
	case err != nil || exitCode != 0:
		res.Status = queue.StepFailed
	default:
		res.Status = queue.StepSucceeded
	}

	runLogger.Info("step finished", "step", step.Name, "status", string(res.Status), "exit_code", exitCode)
	return res
}

// spawnStep runs a shell step with timeout enforcement: SIGTERM first,
// SIGKILL after the grace period.
func (e *Executor) spawnStep(ctx context.Context, run *queue.Run, step pipeline.Step, logger *slog.Logger) (string, int, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Service.StepTimeout
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	cmd := exec.Command("sh", "-c", step.Run)
	cmd.Env = e.stepEnv(run, step)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("spawning step", "step", step.Name, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return "", -1, fmt.Errorf("start step: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("step timed out, sending SIGTERM", "step", step.Name)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("step exited after SIGTERM", "step", step.Name)
		case <-grace.C:
			logger.Warn("step did not exit after SIGTERM, sending SIGKILL", "step", step.Name)
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
		return out.String(), -1, context.DeadlineExceeded

	case err := <-waitErr:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return out.String(), exitErr.ExitCode(), nil
			}
			return out.String(), -1, fmt.Errorf("wait for step: %w", err)
		}
		return out.String(), 0, nil
	}
}

// stepEnv assembles the step environment: process env, run context, the
// matrix axis assignment, and step-level overrides.
func (e *Executor) stepEnv(run *queue.Run, step pipeline.Step) []string {
	env := os.Environ()
	env = append(env,
		"SLIPWAY_RUN_ID="+run.ID,
		"SLIPWAY_PIPELINE="+run.Pipeline,
		"SLIPWAY_EVENT="+string(run.Trigger.Kind),
		"SLIPWAY_REF="+run.Trigger.Reference(),
	)
	if run.Trigger.Branch != "" {
		env = append(env, "SLIPWAY_BRANCH="+run.Trigger.Branch)
	}
	if run.Trigger.Commit != "" {
		env = append(env, "SLIPWAY_COMMIT="+run.Trigger.Commit)
	}
	for axis, value := range run.Axis {
		env = append(env, "MATRIX_"+strings.ToUpper(axis)+"="+value)
	}
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// redact strips registry credential values from captured output so
// secrets never reach the database or logs.
func (e *Executor) redact(s string) string {
	for _, envName := range []string{e.cfg.Registry.UsernameEnv, e.cfg.Registry.PasswordEnv} {
		if envName == "" {
			continue
		}
		if v := os.Getenv(envName); v != "" {
			s = strings.ReplaceAll(s, v, "***")
		}
	}
	return s
}

func (e *Executor) recordStep(ctx context.Context, logger *slog.Logger, res queue.StepResult) {
	if err := e.queue.RecordStep(ctx, res); err != nil {
		logger.Error("failed to record step result", "step", res.Name, "error", err)
	}
}

func (e *Executor) completeRun(ctx context.Context, run *queue.Run, status queue.Status, failedStep, lastError *string) {
	if err := e.queue.Complete(ctx, run.ID, status, failedStep, lastError); err != nil {
		e.logger.Error("failed to complete run", "run_id", run.ID, "error", err)
	}
	summary := runSummary(run)
	summary["status"] = string(status)
	if failedStep != nil {
		summary["failed_step"] = *failedStep
	}
	e.hub.Publish(events.TypeRunFinished, summary)
}

func runSummary(run *queue.Run) map[string]any {
	return map[string]any{
		"run_id":   run.ID,
		"pipeline": run.Pipeline,
		"axis":     run.Axis,
		"event":    string(run.Trigger.Kind),
	}
}

func stepSummary(run *queue.Run, step string, status queue.StepStatus) map[string]any {
	out := map[string]any{
		"run_id":   run.ID,
		"pipeline": run.Pipeline,
		"step":     step,
	}
	if status != "" {
		out["status"] = string(status)
	}
	return out
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
