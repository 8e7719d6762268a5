package postgres

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
)

const matchTable = "matches"

type matchTableModel struct {
	ID             string         `db:"id"`
	Status         string         `db:"status"`
	Teams          string         `db:"teams"`
	PlayerIDs      pq.StringArray `db:"player_ids"`
	LobbyID        *string        `db:"lobby_id"`
	Mode           *string        `db:"mode"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	StartedAt      *time.Time     `db:"started_at"`
	FinishedAt     *time.Time     `db:"finished_at"`
	TimerExpiresAt *time.Time     `db:"timer_expires_at"`
}

var matchColumns = []string{
	"id",
	"status",
	"teams",
	"player_ids",
	"lobby_id",
	"mode",
	"created_at",
	"updated_at",
	"started_at",
	"finished_at",
	"timer_expires_at",
}

// teamDocument is the JSONB layout of matches.teams.
type teamDocument struct {
	Players []playerDocument `json:"players"`
}

type playerDocument struct {
	ID      string `json:"id"`
	IsReady bool   `json:"isReady"`
}

func encodeTeams(teams []match.Team) (string, error) {
	docs := make([]teamDocument, 0, len(teams))
	for _, team := range teams {
		doc := teamDocument{Players: make([]playerDocument, 0, len(team.Players))}
		for _, p := range team.Players {
			doc.Players = append(doc.Players, playerDocument{ID: p.ID, IsReady: p.IsReady})
		}
		docs = append(docs, doc)
	}
	raw, err := sonic.MarshalString(docs)
	if err != nil {
		return "", errors.Wrap(err, "encode match teams")
	}
	return raw, nil
}

func decodeTeams(raw string) ([]match.Team, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var docs []teamDocument
	if err := sonic.UnmarshalString(raw, &docs); err != nil {
		return nil, errors.Wrap(err, "decode match teams")
	}
	out := make([]match.Team, 0, len(docs))
	for _, doc := range docs {
		team := match.Team{Players: make([]match.Player, 0, len(doc.Players))}
		for _, p := range doc.Players {
			team.Players = append(team.Players, match.Player{ID: p.ID, IsReady: p.IsReady})
		}
		out = append(out, team)
	}
	return out, nil
}

func matchToRow(m match.Match) (matchTableModel, error) {
	teams, err := encodeTeams(m.Teams)
	if err != nil {
		return matchTableModel{}, err
	}
	status := m.Status
	if status == "" {
		status = match.StatusWaitingPlayers
	}
	return matchTableModel{
		ID:             m.ID,
		Status:         string(status),
		Teams:          teams,
		PlayerIDs:      pq.StringArray(m.PlayerIDs()),
		LobbyID:        optionalString(m.Metadata.LobbyID),
		Mode:           optionalString(m.Metadata.Mode),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		StartedAt:      utcPtr(m.StartedAt),
		FinishedAt:     utcPtr(m.FinishedAt),
		TimerExpiresAt: utcPtr(m.TimerExpiresAt),
	}, nil
}

func matchFromRow(row matchTableModel) (match.Match, error) {
	status, err := match.ParseStatus(row.Status)
	if err != nil {
		return match.Match{}, errors.Wrapf(err, "match=%s", row.ID)
	}
	teams, err := decodeTeams(row.Teams)
	if err != nil {
		return match.Match{}, errors.Wrapf(err, "match=%s", row.ID)
	}
	return match.Match{
		ID:     row.ID,
		Teams:  teams,
		Status: status,
		Metadata: match.Metadata{
			LobbyID: derefString(row.LobbyID),
			Mode:    derefString(row.Mode),
		},
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
		StartedAt:      utcPtr(row.StartedAt),
		FinishedAt:     utcPtr(row.FinishedAt),
		TimerExpiresAt: utcPtr(row.TimerExpiresAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
