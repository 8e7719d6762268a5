package jobscheduler

import "context"

// Repository stores dispatch audit records keyed by dispatch id.
type Repository interface {
	// RecordEvent folds e into the stored dispatch, creating it on first sight.
	RecordEvent(ctx context.Context, e Event) error
	Get(ctx context.Context, dispatchID string) (Dispatch, bool, error)
}
