package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Run("matches wrapped unique violation", func(t *testing.T) {
		err := errors.Wrap(&pq.Error{Code: "23505"}, "insert")
		if !isUniqueViolation(err) {
			t.Fatalf("expected true for unique violation")
		}
	})

	t.Run("ignores other pq codes", func(t *testing.T) {
		if isUniqueViolation(&pq.Error{Code: "42P01"}) {
			t.Fatalf("expected false for undefined table")
		}
	})

	t.Run("ignores plain errors", func(t *testing.T) {
		if isUniqueViolation(fakeErr("boom")) {
			t.Fatalf("expected false for plain error")
		}
	})
}

func TestQueueEntryRowConversion(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := queueEntryToRow(queue.Entry{
		UserID:    "u1",
		WaitingID: "w1",
		CreatedAt: createdAt,
	})
	if !row.LastSeenAt.Equal(createdAt) {
		t.Fatalf("expected last seen to default to created at, got %s", row.LastSeenAt)
	}
	if row.LobbyID != nil {
		t.Fatalf("expected nil lobby id, got %q", *row.LobbyID)
	}
	if row.GroupMembers == nil {
		t.Fatalf("expected empty group members array, not NULL")
	}

	entry := queueEntryFromRow(row)
	if entry.LobbyID != "" || entry.GroupMembers != nil {
		t.Fatalf("unexpected party info: %+v", entry)
	}
}

func TestMatchRowConversion(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	item := match.Match{
		ID: "m1",
		Teams: []match.Team{
			{Players: []match.Player{{ID: "a", IsReady: true}}},
			{Players: []match.Player{{ID: "b"}}},
		},
		Metadata:  match.Metadata{LobbyID: "lobby-1"},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	row, err := matchToRow(item)
	if err != nil {
		t.Fatalf("match to row: %v", err)
	}
	if row.Status != string(match.StatusWaitingPlayers) {
		t.Fatalf("expected default status, got %q", row.Status)
	}
	if strings.Join(row.PlayerIDs, ",") != "a,b" {
		t.Fatalf("unexpected player ids: %v", row.PlayerIDs)
	}

	got, err := matchFromRow(row)
	if err != nil {
		t.Fatalf("match from row: %v", err)
	}
	if len(got.Teams) != 2 || !got.Teams[0].Players[0].IsReady || got.Teams[1].Players[0].IsReady {
		t.Fatalf("unexpected teams: %+v", got.Teams)
	}
	if got.Metadata.LobbyID != "lobby-1" || got.Metadata.Mode != "" {
		t.Fatalf("unexpected metadata: %+v", got.Metadata)
	}
}

func TestMatchFromRow_NormalizesLegacyStatus(t *testing.T) {
	got, err := matchFromRow(matchTableModel{ID: "m1", Status: "waiting", Teams: "[]"})
	if err != nil {
		t.Fatalf("match from row: %v", err)
	}
	if got.Status != match.StatusWaitingPlayers {
		t.Fatalf("expected waiting_players, got %q", got.Status)
	}

	if _, err := matchFromRow(matchTableModel{ID: "m2", Status: "paused"}); !errors.Is(err, match.ErrUnknownStatus) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestTransitionQuery(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	query, args, err := transitionQuery("m1", match.StartTransition(at))
	if err != nil {
		t.Fatalf("transition query: %v", err)
	}
	if !strings.HasPrefix(query, "UPDATE matches SET status = $1, updated_at = $2, started_at = $3 WHERE id = $4 AND status IN ($5, $6, $7) RETURNING ") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 7 || args[4] != "waiting_players" || args[5] != "waiting" || args[6] != "ready" {
		t.Fatalf("unexpected args: %v", args)
	}

	query, _, err = transitionQuery("m1", match.FinishTransition(at))
	if err != nil {
		t.Fatalf("transition query: %v", err)
	}
	if !strings.Contains(query, "finished_at = $3") || !strings.Contains(query, "status IN ($5)") {
		t.Fatalf("unexpected finish query: %s", query)
	}
}

func TestUnmarshalPayload(t *testing.T) {
	got, err := unmarshalPayload(`{"matchId":"m1"}`)
	if err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got["matchId"] != "m1" {
		t.Fatalf("unexpected payload: %v", got)
	}

	empty, err := unmarshalPayload("{}")
	if err != nil || empty != nil {
		t.Fatalf("expected nil payload for empty object, got %v err=%v", empty, err)
	}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
