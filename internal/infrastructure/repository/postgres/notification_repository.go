package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	qb "github.com/riskibarqy/arena-matchmaking/internal/platform/querybuilder"
)

const notificationTable = "notifications"

type notificationTableModel struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	IsRead    bool      `db:"is_read"`
	Data      string    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

var notificationColumns = qb.Columns(notificationTableModel{})

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n notification.Notification) error {
	data, err := marshalPayload(n.Data)
	if err != nil {
		return errors.Wrap(err, "marshal notification data")
	}

	query, args, err := qb.InsertModel(notificationTable, notificationTableModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		IsRead:    n.Read,
		Data:      data,
		CreatedAt: n.CreatedAt.UTC(),
	}, "")
	if err != nil {
		return errors.Wrap(err, "build insert notification query")
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "insert notification user=%s type=%s", n.UserID, n.Type)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter notification.ListFilter) ([]notification.Notification, error) {
	conditions := []qb.Condition{qb.Eq("user_id", userID)}
	if filter.UnreadOnly {
		conditions = append(conditions, qb.Eq("is_read", false))
	}

	query, args, err := qb.Select(notificationColumns...).
		From(notificationTable).
		Where(conditions...).
		OrderBy("created_at DESC", "id DESC").
		Limit(filter.Limit).
		ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build list notifications query")
	}

	var rows []notificationTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "list notifications user=%s", userID)
	}

	out := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		data, err := unmarshalPayload(row.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode notification=%s data", row.ID)
		}
		out = append(out, notification.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Type:      notification.Type(row.Type),
			Read:      row.IsRead,
			Data:      data,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	query, args, err := qb.Update(notificationTable).
		Set("is_read", true).
		Where(qb.Eq("id", id), qb.Eq("user_id", userID)).
		ToSQL()
	if err != nil {
		return errors.Wrap(err, "build mark notification read query")
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "mark notification=%s read", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read mark notification rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(notification.ErrNotFound, "notification=%s user=%s", id, userID)
	}
	return nil
}
