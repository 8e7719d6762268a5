package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	matchmock "github.com/riskibarqy/arena-matchmaking/internal/mocks/domain/match"
	queuemock "github.com/riskibarqy/arena-matchmaking/internal/mocks/domain/queue"
)

func pendingMatch(id string, players ...string) match.Match {
	m := match.Match{
		ID:        id,
		Status:    match.StatusWaitingPlayers,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, p := range players {
		m.Teams = append(m.Teams, match.Team{Players: []match.Player{{ID: p, IsReady: true}}})
	}
	return m
}

func TestMatchService_StartMatchLostRaceSkipsDequeueUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	queueRepo := queuemock.NewRepository(t)
	svc := NewMatchService(matchRepo, queueRepo, nil, nil, MatchServiceConfig{}, nil)

	matchRepo.
		On("GetByID", mock.Anything, "m-1").
		Return(pendingMatch("m-1", "a", "b"), true, nil).
		Once()
	matchRepo.
		On("Transition", mock.Anything, "m-1", mock.MatchedBy(func(tr match.Transition) bool {
			return tr.To == match.StatusInProgress
		})).
		Return(match.Match{}, errors.Wrap(match.ErrInvalidTransition, "match=m-1 in_progress -> in_progress")).
		Once()

	_, err := svc.StartMatch(ctx, StartMatchInput{MatchID: "m-1"})
	if !errors.Is(err, match.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("lost race must not be reported as a store failure")
	}
	queueRepo.AssertNotCalled(t, "DequeueMany", mock.Anything, mock.Anything)
}

func TestMatchService_StartMatchDequeueFailureStillStartsUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	queueRepo := queuemock.NewRepository(t)
	svc := NewMatchService(matchRepo, queueRepo, nil, nil, MatchServiceConfig{}, nil)

	started := pendingMatch("m-1", "a", "b")
	started.Status = match.StatusInProgress

	matchRepo.On("GetByID", mock.Anything, "m-1").Return(pendingMatch("m-1", "a", "b"), true, nil).Once()
	matchRepo.On("Transition", mock.Anything, "m-1", mock.Anything).Return(started, nil).Once()
	queueRepo.
		On("DequeueMany", mock.Anything, []string{"a", "b"}).
		Return(0, errors.New("dial tcp 10.0.0.5:6379: connect: connection refused")).
		Once()

	got, err := svc.StartMatch(ctx, StartMatchInput{MatchID: "m-1"})
	require.NoError(t, err)
	require.Equal(t, match.StatusInProgress, got.Match.Status)
	require.Equal(t, []string{"a", "b"}, got.PlayersJoined)
	require.Zero(t, got.PlayersRemovedFromQueue)
}

func TestMatchService_StoreFailuresAreMarkedUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	queueRepo := queuemock.NewRepository(t)
	mm := NewMatchmakingService(queueRepo, matchRepo, &seqIDs{prefix: "wait"}, nil, nil)

	matchRepo.On("FindActiveForUser", mock.Anything, "user-1").Return(match.Match{}, false, nil).Once()
	queueRepo.
		On("Enqueue", mock.Anything, mock.MatchedBy(func(e queue.Entry) bool {
			return e.UserID == "user-1" && e.WaitingID == "wait-1" && e.LastSeenAt.Equal(e.CreatedAt)
		})).
		Return(errors.New("pq: connection reset by peer")).
		Once()

	_, err := mm.JoinQueue(ctx, JoinQueueInput{UserID: "user-1"})
	require.True(t, errors.Is(err, ErrStoreUnavailable), "expected ErrStoreUnavailable, got %v", err)
}

func TestMatchService_CleanupIgnoresMatchesThatMovedOnUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	queueRepo := queuemock.NewRepository(t)
	svc := NewMatchService(matchRepo, queueRepo, nil, nil, MatchServiceConfig{CleanupBatchSize: 10}, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	legacy := pendingMatch("legacy", "a", "b")
	legacy.Status = match.Status("waiting")
	raced := pendingMatch("raced", "c", "d")

	matchRepo.
		On("ListStale", mock.Anything, now.Add(-10*time.Minute), 10).
		Return([]match.Match{legacy, raced}, nil).
		Once()
	abandoned := legacy
	abandoned.Status = match.StatusAbandoned
	matchRepo.
		On("Transition", mock.Anything, "legacy", mock.MatchedBy(func(tr match.Transition) bool {
			return tr.To == match.StatusAbandoned && tr.At.Equal(now)
		})).
		Return(abandoned, nil).
		Once()
	matchRepo.
		On("Transition", mock.Anything, "raced", mock.Anything).
		Return(match.Match{}, errors.Wrap(match.ErrInvalidTransition, "match=raced in_progress -> abandoned")).
		Once()

	got, err := svc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	queueRepo.AssertNotCalled(t, "DeleteStale", mock.Anything, mock.Anything)
}

func TestMatchService_CleanupReportsTransitionFailureUsingMockery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	matchRepo := matchmock.NewRepository(t)
	queueRepo := queuemock.NewRepository(t)
	svc := NewMatchService(matchRepo, queueRepo, nil, nil, MatchServiceConfig{}, nil)

	matchRepo.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return([]match.Match{pendingMatch("m-1", "a")}, nil).Once()
	matchRepo.On("Transition", mock.Anything, "m-1", mock.Anything).Return(match.Match{}, errors.New("timeout")).Once()

	_, err := svc.CleanupAbandoned(ctx, CleanupAbandonedInput{})
	require.True(t, errors.Is(err, ErrStoreUnavailable), "expected ErrStoreUnavailable, got %v", err)
}
