package match

import (
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound          = errors.New("match not found")
	ErrPlayerNotInMatch  = errors.New("player not in match")
	ErrInvalidTransition = errors.New("invalid match status transition")
	ErrUnknownStatus     = errors.New("unknown match status")
)

type Status string

const (
	StatusWaitingPlayers Status = "waiting_players"
	StatusReady          Status = "ready"
	StatusInProgress     Status = "in_progress"
	StatusFinished       Status = "finished"
	StatusAbandoned      Status = "abandoned"
	StatusCancelled      Status = "cancelled"

	// legacyStatusWaiting is still written by older producers.
	legacyStatusWaiting = "waiting"
)

// PreStartStatuses are the statuses a match may hold before it starts.
var PreStartStatuses = []Status{StatusWaitingPlayers, StatusReady}

// ActiveStatuses are the statuses that bind a user to a match.
var ActiveStatuses = []Status{StatusWaitingPlayers, StatusReady, StatusInProgress}

// Active reports whether a match in this status still binds its players.
func (s Status) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// ParseStatus normalizes a stored or client supplied status onto the canonical vocabulary.
func ParseStatus(raw string) (Status, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case legacyStatusWaiting:
		return StatusWaitingPlayers, nil
	case string(StatusWaitingPlayers), string(StatusReady), string(StatusInProgress),
		string(StatusFinished), string(StatusAbandoned), string(StatusCancelled):
		return Status(value), nil
	default:
		return "", errors.Wrapf(ErrUnknownStatus, "%q", raw)
	}
}

// StatusAliases returns the raw values stored for the given canonical statuses,
// including the legacy spelling of waiting_players.
func StatusAliases(statuses ...Status) []string {
	out := make([]string, 0, len(statuses)+1)
	for _, status := range statuses {
		out = append(out, string(status))
		if status == StatusWaitingPlayers {
			out = append(out, legacyStatusWaiting)
		}
	}
	return out
}

func (s Status) IsPreStart() bool {
	return s == StatusWaitingPlayers || s == StatusReady
}

func (s Status) IsActive() bool {
	return s.IsPreStart() || s == StatusInProgress
}

func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusAbandoned || s == StatusCancelled
}

type Player struct {
	ID      string
	IsReady bool
}

type Team struct {
	Players []Player
}

type Metadata struct {
	LobbyID string
	Mode    string
}

// Match is a formed group of players moving through the readiness handshake.
type Match struct {
	ID             string
	Teams          []Team
	Status         Status
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	TimerExpiresAt *time.Time
}

// AllReady reports whether every player on every team is ready.
// A match without players is vacuously ready.
func AllReady(m Match) bool {
	for _, team := range m.Teams {
		for _, p := range team.Players {
			if !p.IsReady {
				return false
			}
		}
	}
	return true
}

// PlayerIDs lists player ids in team order, then player order.
func (m Match) PlayerIDs() []string {
	out := make([]string, 0, m.PlayerCount())
	for _, team := range m.Teams {
		for _, p := range team.Players {
			out = append(out, p.ID)
		}
	}
	return out
}

// UnreadyPlayerIDs lists players that never confirmed, in PlayerIDs order.
func (m Match) UnreadyPlayerIDs() []string {
	var out []string
	for _, team := range m.Teams {
		for _, p := range team.Players {
			if !p.IsReady {
				out = append(out, p.ID)
			}
		}
	}
	return out
}

func (m Match) PlayerCount() int {
	total := 0
	for _, team := range m.Teams {
		total += len(team.Players)
	}
	return total
}

func (m Match) HasPlayer(userID string) bool {
	_, _, ok := m.locate(userID)
	return ok
}

// SetReady updates a single player's ready flag in place.
func (m *Match) SetReady(userID string, isReady bool, at time.Time) error {
	teamIdx, playerIdx, ok := m.locate(userID)
	if !ok {
		return errors.Wrapf(ErrPlayerNotInMatch, "match=%s user=%s", m.ID, userID)
	}
	m.Teams[teamIdx].Players[playerIdx].IsReady = isReady
	m.UpdatedAt = at
	return nil
}

func (m Match) locate(userID string) (int, int, bool) {
	for ti, team := range m.Teams {
		for pi, p := range team.Players {
			if p.ID == userID {
				return ti, pi, true
			}
		}
	}
	return 0, 0, false
}

// Clone returns a deep copy.
func (m Match) Clone() Match {
	out := m
	out.Teams = make([]Team, len(m.Teams))
	for i, team := range m.Teams {
		out.Teams[i] = Team{Players: append([]Player(nil), team.Players...)}
	}
	out.StartedAt = cloneTime(m.StartedAt)
	out.FinishedAt = cloneTime(m.FinishedAt)
	out.TimerExpiresAt = cloneTime(m.TimerExpiresAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
