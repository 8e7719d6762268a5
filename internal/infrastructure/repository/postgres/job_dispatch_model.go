package postgres

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/jobscheduler"
	qb "github.com/riskibarqy/arena-matchmaking/internal/platform/querybuilder"
)

const jobDispatchTable = "job_dispatches"

type jobDispatchTableModel struct {
	DispatchID  string     `db:"dispatch_id"`
	JobName     string     `db:"job_name"`
	JobPath     string     `db:"job_path"`
	Payload     string     `db:"payload"`
	Status      string     `db:"status"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	SentAt      *time.Time `db:"sent_at"`
	CompletedAt *time.Time `db:"completed_at"`
	FailedAt    *time.Time `db:"failed_at"`
	TraceID     *string    `db:"trace_id"`
	SpanID      *string    `db:"span_id"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

var jobDispatchColumns = qb.Columns(jobDispatchTableModel{})

func jobDispatchToRow(d jobscheduler.Dispatch) (jobDispatchTableModel, error) {
	payload, err := marshalPayload(d.Payload)
	if err != nil {
		return jobDispatchTableModel{}, errors.Wrap(err, "marshal job dispatch payload")
	}
	job, path := d.Job, d.Path
	if job == "" {
		job = "unknown"
	}
	if path == "" {
		path = "/unknown"
	}
	return jobDispatchTableModel{
		DispatchID:  d.DispatchID,
		JobName:     job,
		JobPath:     path,
		Payload:     payload,
		Status:      string(d.Status),
		Attempts:    d.Attempts,
		LastError:   optionalString(d.LastError),
		SentAt:      d.SentAt,
		CompletedAt: d.CompletedAt,
		FailedAt:    d.FailedAt,
		TraceID:     optionalString(d.TraceID),
		SpanID:      optionalString(d.SpanID),
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func jobDispatchFromRow(row jobDispatchTableModel) (jobscheduler.Dispatch, error) {
	payload, err := unmarshalPayload(row.Payload)
	if err != nil {
		return jobscheduler.Dispatch{}, errors.Wrapf(err, "decode job dispatch payload dispatch_id=%s", row.DispatchID)
	}
	return jobscheduler.Dispatch{
		DispatchID:  row.DispatchID,
		Job:         row.JobName,
		Path:        row.JobPath,
		Status:      jobscheduler.DispatchStatus(row.Status),
		Payload:     payload,
		Attempts:    row.Attempts,
		LastError:   derefString(row.LastError),
		SentAt:      row.SentAt,
		CompletedAt: row.CompletedAt,
		FailedAt:    row.FailedAt,
		TraceID:     derefString(row.TraceID),
		SpanID:      derefString(row.SpanID),
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
