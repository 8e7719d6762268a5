package usecase

import (
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrNotQueued             = errors.New("user is not queued")
	ErrNoLongerQueued        = errors.New("user is no longer queued")
	ErrAlreadyInMatch        = errors.New("user already belongs to an active match")
)

var domainErrors = []error{
	queue.ErrAlreadyQueued,
	queue.ErrInvalidEntry,
	match.ErrNotFound,
	match.ErrPlayerNotInMatch,
	match.ErrInvalidTransition,
	notification.ErrNotFound,
}

// storeErr wraps a repository failure. Anything that is not a domain error is
// marked ErrStoreUnavailable so the transport layer never leaks driver details.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, op)
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return wrapped
		}
	}
	return errors.Mark(wrapped, ErrStoreUnavailable)
}

func invalidInput(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
