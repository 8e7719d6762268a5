package match

import (
	"slices"
	"time"

	"github.com/cockroachdb/errors"
)

// Transition is a conditional status change: it applies only while the match
// is in one of From.
type Transition struct {
	From []Status
	To   Status
	At   time.Time
}

func StartTransition(at time.Time) Transition {
	return Transition{From: PreStartStatuses, To: StatusInProgress, At: at}
}

func AbandonTransition(at time.Time) Transition {
	return Transition{From: PreStartStatuses, To: StatusAbandoned, At: at}
}

func CancelTransition(at time.Time) Transition {
	return Transition{From: PreStartStatuses, To: StatusCancelled, At: at}
}

func FinishTransition(at time.Time) Transition {
	return Transition{From: []Status{StatusInProgress}, To: StatusFinished, At: at}
}

func (t Transition) Allows(current Status) bool {
	return slices.Contains(t.From, current)
}

// Apply mutates m when the transition is allowed, stamping the relevant timestamps.
func (t Transition) Apply(m *Match) error {
	if !t.Allows(m.Status) {
		return errors.Wrapf(ErrInvalidTransition, "match=%s %s -> %s", m.ID, m.Status, t.To)
	}
	at := t.At
	m.Status = t.To
	m.UpdatedAt = at
	switch t.To {
	case StatusInProgress:
		m.StartedAt = &at
	case StatusFinished, StatusAbandoned, StatusCancelled:
		m.FinishedAt = &at
	}
	return nil
}
