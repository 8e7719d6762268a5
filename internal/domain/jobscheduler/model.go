package jobscheduler

import (
	"strings"
	"time"
)

type DispatchStatus string

const (
	StatusSent      DispatchStatus = "sent"
	StatusCompleted DispatchStatus = "completed"
	StatusFailed    DispatchStatus = "failed"
)

// Terminal reports whether a later "sent" event may no longer move the dispatch.
func (s DispatchStatus) Terminal() bool {
	return s == StatusCompleted
}

// Event is one step in the life of a scheduled sweep or formation job.
type Event struct {
	DispatchID   string
	Job          string
	Path         string
	Status       DispatchStatus
	Payload      map[string]any
	ErrorMessage string
	OccurredAt   time.Time
	TraceID      string
	SpanID       string
}

// Dispatch is the folded state of every event recorded for one dispatch id.
// The id encodes the job and its interval slot, so redeliveries land on the same row.
type Dispatch struct {
	DispatchID  string
	Job         string
	Path        string
	Status      DispatchStatus
	Payload     map[string]any
	Attempts    int
	LastError   string
	SentAt      *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	TraceID     string
	SpanID      string
	UpdatedAt   time.Time
}

// Apply folds e into d. A completed dispatch keeps its status when a late
// publish retry reports "sent" again; failures after completion are kept as
// the last error only.
func (d Dispatch) Apply(e Event) Dispatch {
	at := e.OccurredAt.UTC()
	if d.DispatchID == "" {
		d.DispatchID = strings.TrimSpace(e.DispatchID)
	}
	if job := strings.TrimSpace(e.Job); job != "" {
		d.Job = job
	}
	if path := strings.TrimSpace(e.Path); path != "" {
		d.Path = path
	}
	if e.Payload != nil {
		d.Payload = e.Payload
	}
	if e.TraceID != "" {
		d.TraceID, d.SpanID = e.TraceID, e.SpanID
	}
	d.UpdatedAt = at

	switch e.Status {
	case StatusSent:
		d.Attempts++
		if d.SentAt == nil {
			d.SentAt = &at
		}
		if d.Status.Terminal() {
			return d
		}
		d.Status = StatusSent
		d.LastError = ""
	case StatusCompleted:
		d.Status = StatusCompleted
		d.CompletedAt = &at
		d.FailedAt = nil
		d.LastError = ""
	case StatusFailed:
		d.FailedAt = &at
		d.LastError = e.ErrorMessage
		if !d.Status.Terminal() {
			d.Status = StatusFailed
		}
	}
	return d
}
