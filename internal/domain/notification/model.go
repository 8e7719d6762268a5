package notification

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrNotFound = errors.New("notification not found")

type Type string

const (
	TypeMatchFound     Type = "match_found"
	TypeMatchStarted   Type = "match_started"
	TypeMatchAbandoned Type = "match_abandoned"
	TypeMatchCancelled Type = "match_cancelled"
	TypeMatchFinished  Type = "match_finished"
)

type Notification struct {
	ID        string
	UserID    string
	Type      Type
	Read      bool
	Data      map[string]any
	CreatedAt time.Time
}

type ListFilter struct {
	UnreadOnly bool
	Limit      int
}

// Repository exposes notification persistence operations.
type Repository interface {
	Create(ctx context.Context, n Notification) error
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Notification, error)
	// MarkRead fails with ErrNotFound when the notification does not belong to userID.
	MarkRead(ctx context.Context, userID, id string) error
}
