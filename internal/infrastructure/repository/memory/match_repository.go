package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
)

type MatchRepository struct {
	mu    sync.RWMutex
	items map[string]match.Match
}

func NewMatchRepository() *MatchRepository {
	return &MatchRepository{items: make(map[string]match.Match)}
}

func (r *MatchRepository) Create(_ context.Context, m match.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[m.ID]; exists {
		return errors.Newf("match %s already exists", m.ID)
	}
	if m.Status == "" {
		m.Status = match.StatusWaitingPlayers
	}
	r.items[m.ID] = m.Clone()
	return nil
}

func (r *MatchRepository) GetByID(_ context.Context, id string) (match.Match, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return match.Match{}, false, nil
	}
	return item.Clone(), true, nil
}

func (r *MatchRepository) FindActiveForUser(_ context.Context, userID string) (match.Match, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found match.Match
		ok    bool
	)
	for _, item := range r.items {
		if !item.Status.IsActive() || !item.HasPlayer(userID) {
			continue
		}
		if !ok || item.CreatedAt.After(found.CreatedAt) {
			found, ok = item, true
		}
	}
	if !ok {
		return match.Match{}, false, nil
	}
	return found.Clone(), true, nil
}

func (r *MatchRepository) SetPlayerReady(_ context.Context, matchID, userID string, isReady bool, at time.Time) (match.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[matchID]
	if !ok {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	item = item.Clone()
	if err := item.SetReady(userID, isReady, at); err != nil {
		return match.Match{}, err
	}
	r.items[matchID] = item
	return item.Clone(), nil
}

func (r *MatchRepository) Transition(_ context.Context, matchID string, t match.Transition) (match.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[matchID]
	if !ok {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	item = item.Clone()
	if err := t.Apply(&item); err != nil {
		return match.Match{}, err
	}
	r.items[matchID] = item
	return item.Clone(), nil
}

func (r *MatchRepository) ListStale(_ context.Context, createdBefore time.Time, limit int) ([]match.Match, error) {
	r.mu.RLock()
	out := make([]match.Match, 0)
	for _, item := range r.items {
		if item.Status.IsPreStart() && item.CreatedAt.Before(createdBefore) {
			out = append(out, item.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MatchRepository) CountByStatus(_ context.Context) (map[match.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[match.Status]int)
	for _, item := range r.items {
		out[item.Status]++
	}
	return out, nil
}
