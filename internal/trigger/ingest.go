package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/events"
	"github.com/slipwayci/slipway/internal/pipeline"
	"github.com/slipwayci/slipway/internal/queue"
)

// Ingestor turns trigger events into queued pipeline runs: it matches
// the event against loaded pipelines, expands each match's matrix, and
// enqueues one run per axis combination.
type Ingestor struct {
	set    *pipeline.Set
	queue  RunEnqueuer
	hub    *events.Hub
	logger *slog.Logger
}

func NewIngestor(set *pipeline.Set, q RunEnqueuer, hub *events.Hub, logger *slog.Logger) *Ingestor {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Ingestor{set: set, queue: q, hub: hub, logger: logger}
}

// Ingest validates ev, stamps identity fields, and enqueues qualifying
// runs. Returns the stamped event and the IDs of the runs created
// (possibly none).
func (ing *Ingestor) Ingest(ctx context.Context, ev event.Event, source string) (event.Event, []string, error) {
	if err := ev.Validate(); err != nil {
		return ev, nil, fmt.Errorf("invalid event: %w", err)
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = source
	}
	ev.ReceivedAt = time.Now().UTC()

	var runIDs []string
	for _, p := range ing.set.Match(ev) {
		for _, plan := range p.Expand() {
			runID, err := ing.queue.Enqueue(ctx, queue.EnqueueRequest{
				Pipeline:    plan.Pipeline.Name,
				Fingerprint: plan.Pipeline.Fingerprint,
				Axis:        plan.Axis,
				Trigger:     ev,
				SubmittedBy: source,
			})
			if err != nil {
				return ev, runIDs, fmt.Errorf("enqueue run for pipeline %q: %w", plan.Pipeline.Name, err)
			}
			runIDs = append(runIDs, runID)
			ing.hub.Publish(events.TypeRunQueued, map[string]any{
				"run_id":   runID,
				"pipeline": plan.Pipeline.Name,
				"axis":     plan.Axis,
				"event":    string(ev.Kind),
				"event_id": ev.EventID,
			})
		}
	}

	ing.logger.Info("event ingested",
		"event_id", ev.EventID,
		"kind", string(ev.Kind),
		"source", ev.Source,
		"runs_created", len(runIDs),
	)
	return ev, runIDs, nil
}
