package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	qb "github.com/riskibarqy/arena-matchmaking/internal/platform/querybuilder"
)

type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) Create(ctx context.Context, m match.Match) error {
	row, err := matchToRow(m)
	if err != nil {
		return err
	}

	query, args, err := qb.InsertModel(matchTable, row, "")
	if err != nil {
		return errors.Wrap(err, "build insert match query")
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "insert match=%s", m.ID)
	}
	return nil
}

func (r *MatchRepository) GetByID(ctx context.Context, id string) (match.Match, bool, error) {
	query, args, err := qb.Select(matchColumns...).
		From(matchTable).
		Where(qb.Eq("id", id)).
		ToSQL()
	if err != nil {
		return match.Match{}, false, errors.Wrap(err, "build get match query")
	}

	return r.getOne(ctx, r.db, query, args...)
}

func (r *MatchRepository) FindActiveForUser(ctx context.Context, userID string) (match.Match, bool, error) {
	query, args, err := qb.Select(matchColumns...).
		From(matchTable).
		Where(
			qb.Contains("player_ids", userID),
			qb.In("status", match.StatusAliases(match.ActiveStatuses...)...),
		).
		OrderBy("created_at DESC").
		Limit(1).
		ToSQL()
	if err != nil {
		return match.Match{}, false, errors.Wrap(err, "build find active match query")
	}

	return r.getOne(ctx, r.db, query, args...)
}

// SetPlayerReady locks the match row so concurrent ready calls on other
// players of the same match never overwrite each other.
func (r *MatchRepository) SetPlayerReady(ctx context.Context, matchID, userID string, isReady bool, at time.Time) (match.Match, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return match.Match{}, errors.Wrap(err, "begin set player ready tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query, args, err := qb.Select(matchColumns...).
		From(matchTable).
		Where(qb.Eq("id", matchID)).
		ForUpdate().
		ToSQL()
	if err != nil {
		return match.Match{}, errors.Wrap(err, "build lock match query")
	}

	item, exists, err := r.getOne(ctx, tx, query, args...)
	if err != nil {
		return match.Match{}, err
	}
	if !exists {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	if err := item.SetReady(userID, isReady, at.UTC()); err != nil {
		return match.Match{}, err
	}

	teams, err := encodeTeams(item.Teams)
	if err != nil {
		return match.Match{}, err
	}
	query, args, err = qb.Update(matchTable).
		Set("teams", teams).
		Set("updated_at", item.UpdatedAt).
		Where(qb.Eq("id", matchID)).
		ToSQL()
	if err != nil {
		return match.Match{}, errors.Wrap(err, "build update match teams query")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return match.Match{}, errors.Wrapf(err, "update match teams match=%s", matchID)
	}

	if err := tx.Commit(); err != nil {
		return match.Match{}, errors.Wrap(err, "commit set player ready tx")
	}
	return item, nil
}

func (r *MatchRepository) Transition(ctx context.Context, matchID string, t match.Transition) (match.Match, error) {
	query, args, err := transitionQuery(matchID, t)
	if err != nil {
		return match.Match{}, err
	}

	updated, ok, err := r.getOne(ctx, r.db, query, args...)
	if err != nil {
		return match.Match{}, errors.Wrapf(err, "transition match=%s to %s", matchID, t.To)
	}
	if ok {
		return updated, nil
	}

	current, exists, err := r.GetByID(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if !exists {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	return match.Match{}, errors.Wrapf(match.ErrInvalidTransition, "match=%s %s -> %s", matchID, current.Status, t.To)
}

// transitionQuery renders the status compare-and-set as one UPDATE ... RETURNING.
func transitionQuery(matchID string, t match.Transition) (string, []any, error) {
	at := t.At.UTC()
	builder := qb.Update(matchTable).
		Set("status", string(t.To)).
		Set("updated_at", at)
	switch t.To {
	case match.StatusInProgress:
		builder = builder.Set("started_at", at)
	case match.StatusFinished, match.StatusAbandoned, match.StatusCancelled:
		builder = builder.Set("finished_at", at)
	}

	query, args, err := builder.
		Where(
			qb.Eq("id", matchID),
			qb.In("status", match.StatusAliases(t.From...)...),
		).
		Returning(matchColumns...).
		ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build transition match query")
	}
	return query, args, nil
}

func (r *MatchRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]match.Match, error) {
	query, args, err := qb.Select(matchColumns...).
		From(matchTable).
		Where(
			qb.In("status", match.StatusAliases(match.PreStartStatuses...)...),
			qb.Lt("created_at", createdBefore.UTC()),
		).
		OrderBy("created_at ASC").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build list stale matches query")
	}

	var rows []matchTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list stale matches")
	}

	out := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		item, err := matchFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *MatchRepository) CountByStatus(ctx context.Context) (map[match.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(1) AS total FROM `+matchTable+` GROUP BY status`); err != nil {
		return nil, errors.Wrap(err, "count matches by status")
	}

	out := make(map[match.Status]int, len(rows))
	for _, row := range rows {
		status, err := match.ParseStatus(row.Status)
		if err != nil {
			continue
		}
		out[status] += row.Total
	}
	return out, nil
}

func (r *MatchRepository) getOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (match.Match, bool, error) {
	var row matchTableModel
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if isNotFound(err) {
			return match.Match{}, false, nil
		}
		return match.Match{}, false, errors.Wrap(err, "get match")
	}
	item, err := matchFromRow(row)
	if err != nil {
		return match.Match{}, false, err
	}
	return item, true, nil
}
