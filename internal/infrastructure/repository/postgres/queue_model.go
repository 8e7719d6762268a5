package postgres

import (
	"time"

	"github.com/lib/pq"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

const queueTable = "matchmaking_queue"

type queueEntryTableModel struct {
	UserID       string         `db:"user_id"`
	WaitingID    string         `db:"waiting_id"`
	LobbyID      *string        `db:"lobby_id"`
	GroupMembers pq.StringArray `db:"group_members"`
	CreatedAt    time.Time      `db:"created_at"`
	LastSeenAt   time.Time      `db:"last_seen_at"`
}

var queueEntryColumns = []string{
	"user_id",
	"waiting_id",
	"lobby_id",
	"group_members",
	"created_at",
	"last_seen_at",
}

func queueEntryToRow(entry queue.Entry) queueEntryTableModel {
	lastSeen := entry.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = entry.CreatedAt
	}
	members := pq.StringArray{}
	if len(entry.GroupMembers) > 0 {
		members = append(members, entry.GroupMembers...)
	}
	return queueEntryTableModel{
		UserID:       entry.UserID,
		WaitingID:    entry.WaitingID,
		LobbyID:      optionalString(entry.LobbyID),
		GroupMembers: members,
		CreatedAt:    entry.CreatedAt.UTC(),
		LastSeenAt:   lastSeen.UTC(),
	}
}

func queueEntryFromRow(row queueEntryTableModel) queue.Entry {
	var members []string
	if len(row.GroupMembers) > 0 {
		members = append(members, row.GroupMembers...)
	}
	return queue.Entry{
		UserID:       row.UserID,
		WaitingID:    row.WaitingID,
		LobbyID:      derefString(row.LobbyID),
		GroupMembers: members,
		CreatedAt:    row.CreatedAt.UTC(),
		LastSeenAt:   row.LastSeenAt.UTC(),
	}
}
