package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

type QueueRepository struct {
	mu    sync.RWMutex
	items map[string]queue.Entry
}

func NewQueueRepository() *QueueRepository {
	return &QueueRepository{items: make(map[string]queue.Entry)}
}

func (r *QueueRepository) Enqueue(_ context.Context, entry queue.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[entry.UserID]; exists {
		return errors.Wrapf(queue.ErrAlreadyQueued, "user=%s", entry.UserID)
	}
	r.items[entry.UserID] = entry.Clone()
	return nil
}

func (r *QueueRepository) Dequeue(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[userID]; !exists {
		return false, nil
	}
	delete(r.items, userID)
	return true, nil
}

func (r *QueueRepository) DequeueMany(_ context.Context, userIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, userID := range userIDs {
		if _, exists := r.items[userID]; exists {
			delete(r.items, userID)
			removed++
		}
	}
	return removed, nil
}

func (r *QueueRepository) FindByUser(_ context.Context, userID string) (queue.Entry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[userID]
	if !ok {
		return queue.Entry{}, false, nil
	}
	return item.Clone(), true, nil
}

func (r *QueueRepository) ListOldest(_ context.Context, offset, limit int) ([]queue.Entry, error) {
	r.mu.RLock()
	out := make([]queue.Entry, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, offset, limit), nil
}

func (r *QueueRepository) Touch(_ context.Context, userID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[userID]
	if !ok {
		return nil
	}
	item.LastSeenAt = seenAt
	r.items[userID] = item
	return nil
}

func (r *QueueRepository) DeleteStale(_ context.Context, seenBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for userID, item := range r.items {
		if lastSeen(item).Before(seenBefore) {
			delete(r.items, userID)
			removed++
		}
	}
	return removed, nil
}

func (r *QueueRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func lastSeen(item queue.Entry) time.Time {
	if item.LastSeenAt.IsZero() {
		return item.CreatedAt
	}
	return item.LastSeenAt
}

func page[T any](items []T, offset, limit int) []T {
	offset = min(max(offset, 0), len(items))
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
