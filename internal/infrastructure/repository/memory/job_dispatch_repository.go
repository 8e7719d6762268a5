package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/jobscheduler"
)

// JobDispatchRepository keeps the folded dispatch per id.
type JobDispatchRepository struct {
	mu         sync.Mutex
	dispatches map[string]jobscheduler.Dispatch
}

func NewJobDispatchRepository() *JobDispatchRepository {
	return &JobDispatchRepository{dispatches: make(map[string]jobscheduler.Dispatch)}
}

func (r *JobDispatchRepository) RecordEvent(_ context.Context, e jobscheduler.Event) error {
	id := strings.TrimSpace(e.DispatchID)
	if id == "" {
		return errors.New("dispatch id is required")
	}
	e.DispatchID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches[id] = r.dispatches[id].Apply(e)
	return nil
}

func (r *JobDispatchRepository) Get(_ context.Context, dispatchID string) (jobscheduler.Dispatch, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dispatches[strings.TrimSpace(dispatchID)]
	return d, ok, nil
}
