package match

import (
	"context"
	"time"
)

// Repository exposes match persistence operations.
type Repository interface {
	Create(ctx context.Context, m Match) error
	GetByID(ctx context.Context, id string) (Match, bool, error)
	// FindActiveForUser returns a match in waiting_players, ready or in_progress containing the user.
	FindActiveForUser(ctx context.Context, userID string) (Match, bool, error)
	// SetPlayerReady updates one player's flag and returns the updated match.
	// Fails with ErrNotFound or ErrPlayerNotInMatch.
	SetPlayerReady(ctx context.Context, matchID, userID string, isReady bool, at time.Time) (Match, error)
	// Transition atomically applies t and fails with ErrInvalidTransition when the
	// current status is not in t.From.
	Transition(ctx context.Context, matchID string, t Transition) (Match, error)
	// ListStale returns pre-start matches created before the cut-off, oldest first.
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]Match, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
