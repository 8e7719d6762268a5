package queue

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrAlreadyQueued = errors.New("user already queued")
	ErrInvalidEntry  = errors.New("invalid queue entry")
)

// Entry is a single user's active place in the matchmaking queue.
// At most one entry exists per UserID.
type Entry struct {
	UserID       string
	WaitingID    string
	LobbyID      string
	GroupMembers []string
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// PartyInfo describes an optional lobby the user joins with.
type PartyInfo struct {
	LobbyID      string
	GroupMembers []string
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return errors.Wrap(ErrInvalidEntry, "user id is required")
	}
	if strings.TrimSpace(e.WaitingID) == "" {
		return errors.Wrap(ErrInvalidEntry, "waiting id is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.Wrap(ErrInvalidEntry, "created at is required")
	}
	return nil
}

// Members returns the entry owner followed by its distinct party members.
func (e Entry) Members() []string {
	out := make([]string, 0, len(e.GroupMembers)+1)
	seen := make(map[string]struct{}, len(e.GroupMembers)+1)
	for _, id := range append([]string{e.UserID}, e.GroupMembers...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// WaitingSeconds reports whole seconds spent in the queue at now.
func (e Entry) WaitingSeconds(now time.Time) int64 {
	if now.Before(e.CreatedAt) {
		return 0
	}
	return int64(now.Sub(e.CreatedAt) / time.Second)
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	out := e
	if e.GroupMembers != nil {
		out.GroupMembers = append([]string(nil), e.GroupMembers...)
	}
	return out
}
