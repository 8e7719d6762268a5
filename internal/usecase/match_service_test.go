package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
)

func TestMatchService_CleanupAbandonedRespectsThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "old", 11*time.Minute, "a", "b")
	env.seedMatch(t, "fresh", 9*time.Minute, "c", "d")

	got, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)

	old, _, err := env.matches.GetByID(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, match.StatusAbandoned, old.Status)
	require.NotNil(t, old.FinishedAt)

	fresh, _, err := env.matches.GetByID(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, match.StatusWaitingPlayers, fresh.Status)

	items, err := env.notifications.ListByUser(ctx, "a", notification.ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, notification.TypeMatchAbandoned, items[0].Type)
	require.Equal(t, "old", items[0].Data["match_id"])

	// Re-running the sweep finds nothing new.
	got, err = env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Zero(t, got.Count)
}

func TestMatchService_CleanupAbandonedSkipsStartedMatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "running", 30*time.Minute, "a", "b")
	_, err := env.matchSvc.StartMatch(ctx, StartMatchInput{MatchID: "running"})
	require.NoError(t, err)

	got, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{})
	require.NoError(t, err)
	require.Zero(t, got.Count)

	running, _, err := env.matches.GetByID(ctx, "running")
	require.NoError(t, err)
	require.Equal(t, match.StatusInProgress, running.Status)
}

func TestMatchService_CleanupAbandonedManyBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t,
		MatchServiceConfig{CleanupWorkers: 3, CleanupBatchSize: 4},
		MatchFormationConfig{TeamCount: 2, TeamSize: 1},
	)
	for i := range 11 {
		id := "stale-" + string(rune('a'+i))
		env.seedMatch(t, id, time.Hour+time.Duration(i)*time.Minute, id+"-p1", id+"-p2")
	}

	got, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 11, got.Count)

	counts, err := env.matches.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 11, counts[match.StatusAbandoned])
}

func TestMatchService_CleanupAbandonedValidatesThreshold(t *testing.T) {
	t.Parallel()

	env := newLifecycleEnv(t)
	for _, minutes := range []int{-1, maxAbandonThresholdMinutes + 1} {
		_, err := env.matchSvc.CleanupAbandoned(context.Background(), CleanupAbandonedInput{ThresholdMinutes: minutes})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("threshold=%d: expected ErrInvalidInput, got %v", minutes, err)
		}
	}
}

func TestMatchService_CleanupExpiresSilentQueueEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t,
		MatchServiceConfig{QueueHeartbeatTTL: 2 * time.Minute},
		MatchFormationConfig{TeamCount: 2, TeamSize: 1},
	)
	silentWait := env.join(t, "silent")
	activeWait := env.join(t, "active")

	env.clock.Advance(90 * time.Second)
	_, err := env.matchmaking.PollStatus(ctx, PollStatusInput{UserID: "active", WaitingID: activeWait})
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	got, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{})
	require.NoError(t, err)
	require.Equal(t, 1, got.QueueEntriesExpired)

	_, err = env.matchmaking.PollStatus(ctx, PollStatusInput{UserID: "silent", WaitingID: silentWait})
	require.True(t, errors.Is(err, ErrNoLongerQueued), "expected ErrNoLongerQueued, got %v", err)

	_, err = env.matchmaking.PollStatus(ctx, PollStatusInput{UserID: "active", WaitingID: activeWait})
	require.NoError(t, err)
}

func TestMatchService_CleanupKeepsQueueWithoutHeartbeatTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.join(t, "silent")
	env.clock.Advance(24 * time.Hour)

	got, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{})
	require.NoError(t, err)
	require.Zero(t, got.QueueEntriesExpired)

	count, err := env.queue.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMatchService_SubmitReadyUnknownPlayer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "m-1", time.Minute, "a", "b")

	_, err := env.matchSvc.SubmitReady(ctx, SubmitReadyInput{MatchID: "m-1", UserID: "stranger", IsReady: true})
	require.True(t, errors.Is(err, match.ErrPlayerNotInMatch), "expected ErrPlayerNotInMatch, got %v", err)

	_, err = env.matchSvc.SubmitReady(ctx, SubmitReadyInput{MatchID: "missing", UserID: "a", IsReady: true})
	require.True(t, errors.Is(err, match.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestMatchService_SubmitReadyCanWithdraw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "m-1", time.Minute, "a", "b")

	for _, user := range []string{"a", "b"} {
		_, err := env.matchSvc.SubmitReady(ctx, SubmitReadyInput{MatchID: "m-1", UserID: user, IsReady: true})
		require.NoError(t, err)
	}
	got, err := env.matchSvc.SubmitReady(ctx, SubmitReadyInput{MatchID: "m-1", UserID: "b", IsReady: false})
	require.NoError(t, err)
	require.False(t, got.AllPlayersReady)
}

func TestMatchService_StartMatchTwice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "m-1", time.Minute, "a", "b")

	_, err := env.matchSvc.StartMatch(ctx, StartMatchInput{MatchID: "m-1"})
	require.NoError(t, err)

	_, err = env.matchSvc.StartMatch(ctx, StartMatchInput{MatchID: "m-1"})
	require.True(t, errors.Is(err, match.ErrInvalidTransition), "expected ErrInvalidTransition, got %v", err)

	_, err = env.matchSvc.StartMatch(ctx, StartMatchInput{MatchID: "missing"})
	require.True(t, errors.Is(err, match.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestMatchService_StartMatchRejectsOutsider(t *testing.T) {
	t.Parallel()

	env := newLifecycleEnv(t)
	env.seedMatch(t, "m-1", time.Minute, "a", "b")

	_, err := env.matchSvc.StartMatch(context.Background(), StartMatchInput{MatchID: "m-1", TriggeredBy: "outsider"})
	require.True(t, errors.Is(err, match.ErrPlayerNotInMatch), "expected ErrPlayerNotInMatch, got %v", err)
}

func TestMatchService_FinishAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.seedMatch(t, "to-finish", time.Minute, "a", "b")
	env.seedMatch(t, "to-cancel", time.Minute, "c", "d")

	_, err := env.matchSvc.FinishMatch(ctx, "to-finish")
	require.True(t, errors.Is(err, match.ErrInvalidTransition), "finish before start: got %v", err)

	_, err = env.matchSvc.StartMatch(ctx, StartMatchInput{MatchID: "to-finish"})
	require.NoError(t, err)
	finished, err := env.matchSvc.FinishMatch(ctx, "to-finish")
	require.NoError(t, err)
	require.Equal(t, match.StatusFinished, finished.Status)

	cancelled, err := env.matchSvc.CancelMatch(ctx, "to-cancel")
	require.NoError(t, err)
	require.Equal(t, match.StatusCancelled, cancelled.Status)

	// Terminal matches release their players.
	_, err = env.matchmaking.JoinQueue(ctx, JoinQueueInput{UserID: "c"})
	require.NoError(t, err)
}
