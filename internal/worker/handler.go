package worker

import (
	"context"
	"errors"
	"time"
)

// Task is a periodic maintenance job.
type Task interface {
	// Name identifies the task in logs and metrics.
	Name() string

	// Run performs one pass and reports how many items it affected.
	// Return NewPermanentError to stop scheduling the task.
	Run(ctx context.Context) (int64, error)
}

// PermanentError wraps an error to indicate the task should not run again.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// =============================================================================
// Prompt Interaction Retention
// =============================================================================

// InteractionPruner deletes superseded prompt interactions.
type InteractionPruner interface {
	PruneSuperseded(ctx context.Context, retention time.Duration) (int64, error)
}

// PruneInteractionsTask removes superseded prompt interactions older than
// the retention window. The latest interaction per user and trigger is
// always kept, so suppression state survives.
type PruneInteractionsTask struct {
	pruner    InteractionPruner
	retention time.Duration
}

// NewPruneInteractionsTask creates the retention task.
func NewPruneInteractionsTask(pruner InteractionPruner, retention time.Duration) *PruneInteractionsTask {
	return &PruneInteractionsTask{pruner: pruner, retention: retention}
}

// Name implements Task.
func (t *PruneInteractionsTask) Name() string {
	return "prune_interactions"
}

// Run implements Task.
func (t *PruneInteractionsTask) Run(ctx context.Context) (int64, error) {
	if t.retention <= 0 {
		return 0, NewPermanentError(errors.New("retention must be positive"))
	}
	return t.pruner.PruneSuperseded(ctx, t.retention)
}
