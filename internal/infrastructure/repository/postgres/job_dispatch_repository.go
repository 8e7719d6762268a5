package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/jobscheduler"
	qb "github.com/riskibarqy/arena-matchmaking/internal/platform/querybuilder"
)

type JobDispatchRepository struct {
	db *sqlx.DB
}

func NewJobDispatchRepository(db *sqlx.DB) *JobDispatchRepository {
	return &JobDispatchRepository{db: db}
}

// RecordEvent locks the dispatch row, folds the event in Go and writes the
// result back. Two first events racing on a new id both insert; the upsert
// keeps the later one.
func (r *JobDispatchRepository) RecordEvent(ctx context.Context, e jobscheduler.Event) error {
	dispatchID := strings.TrimSpace(e.DispatchID)
	if dispatchID == "" {
		return errors.New("dispatch id is required")
	}
	e.DispatchID = dispatchID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin record job dispatch tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query, args, err := qb.Select(jobDispatchColumns...).
		From(jobDispatchTable).
		Where(qb.Eq("dispatch_id", dispatchID)).
		ForUpdate().
		ToSQL()
	if err != nil {
		return errors.Wrap(err, "build lock job dispatch query")
	}
	current, _, err := r.getOne(ctx, tx, query, args...)
	if err != nil {
		return err
	}

	row, err := jobDispatchToRow(current.Apply(e))
	if err != nil {
		return err
	}
	query, args, err = qb.InsertModel(jobDispatchTable, row, `ON CONFLICT (dispatch_id)
DO UPDATE SET
    job_name = EXCLUDED.job_name,
    job_path = EXCLUDED.job_path,
    payload = EXCLUDED.payload,
    status = EXCLUDED.status,
    attempts = EXCLUDED.attempts,
    last_error = EXCLUDED.last_error,
    sent_at = EXCLUDED.sent_at,
    completed_at = EXCLUDED.completed_at,
    failed_at = EXCLUDED.failed_at,
    trace_id = EXCLUDED.trace_id,
    span_id = EXCLUDED.span_id,
    updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return errors.Wrap(err, "build upsert job dispatch query")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "upsert job dispatch dispatch_id=%s status=%s", dispatchID, e.Status)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit record job dispatch tx")
	}
	return nil
}

func (r *JobDispatchRepository) Get(ctx context.Context, dispatchID string) (jobscheduler.Dispatch, bool, error) {
	query, args, err := qb.Select(jobDispatchColumns...).
		From(jobDispatchTable).
		Where(qb.Eq("dispatch_id", strings.TrimSpace(dispatchID))).
		ToSQL()
	if err != nil {
		return jobscheduler.Dispatch{}, false, errors.Wrap(err, "build get job dispatch query")
	}
	return r.getOne(ctx, r.db, query, args...)
}

func (r *JobDispatchRepository) getOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (jobscheduler.Dispatch, bool, error) {
	var row jobDispatchTableModel
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if isNotFound(err) {
			return jobscheduler.Dispatch{}, false, nil
		}
		return jobscheduler.Dispatch{}, false, errors.Wrap(err, "get job dispatch")
	}
	d, err := jobDispatchFromRow(row)
	if err != nil {
		return jobscheduler.Dispatch{}, false, err
	}
	return d, true, nil
}
