package queue

import (
	"context"
	"time"
)

// Repository exposes matchmaking queue persistence operations.
type Repository interface {
	// Enqueue stores a new entry and fails with ErrAlreadyQueued when the user already has one.
	Enqueue(ctx context.Context, entry Entry) error
	// Dequeue removes the user's entry and reports whether one existed.
	Dequeue(ctx context.Context, userID string) (bool, error)
	// DequeueMany removes entries for every given user and returns how many existed.
	DequeueMany(ctx context.Context, userIDs []string) (int, error)
	FindByUser(ctx context.Context, userID string) (Entry, bool, error)
	// ListOldest returns up to limit entries ordered by CreatedAt ascending,
	// skipping the first offset entries. A non-positive limit returns the rest.
	ListOldest(ctx context.Context, offset, limit int) ([]Entry, error)
	Touch(ctx context.Context, userID string, seenAt time.Time) error
	DeleteStale(ctx context.Context, seenBefore time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}
