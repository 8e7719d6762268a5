package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	qb "github.com/riskibarqy/arena-matchmaking/internal/platform/querybuilder"
)

type QueueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Enqueue(ctx context.Context, entry queue.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	query, args, err := qb.InsertModel(queueTable, queueEntryToRow(entry), "ON CONFLICT (user_id) DO NOTHING")
	if err != nil {
		return errors.Wrap(err, "build enqueue query")
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(queue.ErrAlreadyQueued, "user=%s", entry.UserID)
		}
		return errors.Wrapf(err, "enqueue user=%s", entry.UserID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read enqueue rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(queue.ErrAlreadyQueued, "user=%s", entry.UserID)
	}
	return nil
}

func (r *QueueRepository) Dequeue(ctx context.Context, userID string) (bool, error) {
	query, args, err := qb.DeleteFrom(queueTable).
		Where(qb.Eq("user_id", userID)).
		ToSQL()
	if err != nil {
		return false, errors.Wrap(err, "build dequeue query")
	}

	removed, err := r.execCount(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "dequeue user=%s", userID)
	}
	return removed > 0, nil
}

func (r *QueueRepository) DequeueMany(ctx context.Context, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	query, args, err := qb.DeleteFrom(queueTable).
		Where(qb.In("user_id", userIDs...)).
		ToSQL()
	if err != nil {
		return 0, errors.Wrap(err, "build dequeue many query")
	}

	removed, err := r.execCount(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "dequeue %d users", len(userIDs))
	}
	return removed, nil
}

func (r *QueueRepository) FindByUser(ctx context.Context, userID string) (queue.Entry, bool, error) {
	query, args, err := qb.Select(queueEntryColumns...).
		From(queueTable).
		Where(qb.Eq("user_id", userID)).
		ToSQL()
	if err != nil {
		return queue.Entry{}, false, errors.Wrap(err, "build find queue entry query")
	}

	var row queueEntryTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return queue.Entry{}, false, nil
		}
		return queue.Entry{}, false, errors.Wrapf(err, "find queue entry user=%s", userID)
	}
	return queueEntryFromRow(row), true, nil
}

func (r *QueueRepository) ListOldest(ctx context.Context, offset, limit int) ([]queue.Entry, error) {
	query, args, err := qb.Select(queueEntryColumns...).
		From(queueTable).
		OrderBy("created_at ASC", "user_id ASC").
		Limit(limit).
		Offset(offset).
		ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build list queue query")
	}

	var rows []queueEntryTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list queue entries")
	}

	out := make([]queue.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, queueEntryFromRow(row))
	}
	return out, nil
}

func (r *QueueRepository) Touch(ctx context.Context, userID string, seenAt time.Time) error {
	query, args, err := qb.Update(queueTable).
		Set("last_seen_at", seenAt.UTC()).
		Where(qb.Eq("user_id", userID)).
		ToSQL()
	if err != nil {
		return errors.Wrap(err, "build touch queue entry query")
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "touch queue entry user=%s", userID)
	}
	return nil
}

func (r *QueueRepository) DeleteStale(ctx context.Context, seenBefore time.Time) (int, error) {
	query, args, err := qb.DeleteFrom(queueTable).
		Where(qb.Lt("last_seen_at", seenBefore.UTC())).
		ToSQL()
	if err != nil {
		return 0, errors.Wrap(err, "build delete stale queue query")
	}

	removed, err := r.execCount(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete stale queue entries")
	}
	return removed, nil
}

func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM `+queueTable); err != nil {
		return 0, errors.Wrap(err, "count queue entries")
	}
	return count, nil
}

func (r *QueueRepository) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "read rows affected")
	}
	return int(affected), nil
}
