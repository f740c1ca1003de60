package trigger

import (
	"context"

	"github.com/slipwayci/slipway/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/slipwayci/slipway/internal/trigger RunEnqueuer

// RunEnqueuer defines the interface for enqueueing trigger-created runs.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// TriggerResponse is the JSON response for successful trigger deliveries.
type TriggerResponse struct {
	EventID string   `json:"event_id"`
	Runs    []string `json:"runs"`
}

// ErrorResponse is the JSON response for trigger errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodySize caps webhook request bodies (1 MB).
const DefaultMaxBodySize = 1048576
