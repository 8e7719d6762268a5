package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

func unit(userID string, members ...string) formationUnit {
	entry := queue.Entry{UserID: userID, GroupMembers: members}
	return formationUnit{entry: entry, members: entry.Members()}
}

func TestPackTeams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		units     []formationUnit
		teamCount int
		teamSize  int
		wantOK    bool
		wantTeams [][]string
		wantRest  int
	}{
		{
			name:      "not enough players",
			units:     []formationUnit{unit("a")},
			teamCount: 2,
			teamSize:  1,
			wantOK:    false,
			wantRest:  1,
		},
		{
			name:      "one versus one keeps order",
			units:     []formationUnit{unit("a"), unit("b"), unit("c")},
			teamCount: 2,
			teamSize:  1,
			wantOK:    true,
			wantTeams: [][]string{{"a"}, {"b"}},
			wantRest:  1,
		},
		{
			name:      "party stays together",
			units:     []formationUnit{unit("a"), unit("p", "q"), unit("b")},
			teamCount: 2,
			teamSize:  2,
			wantOK:    true,
			wantTeams: [][]string{{"a", "b"}, {"p", "q"}},
			wantRest:  0,
		},
		{
			name:      "party larger than free slots waits",
			units:     []formationUnit{unit("a"), unit("b"), unit("p", "q"), unit("c")},
			teamCount: 2,
			teamSize:  2,
			wantOK:    true,
			wantTeams: [][]string{{"a", "b"}, {"p", "q"}},
			wantRest:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			teams, rest, ok := packTeams(tc.units, tc.teamCount, tc.teamSize)
			require.Equal(t, tc.wantOK, ok)
			require.Len(t, rest, tc.wantRest)
			if !tc.wantOK {
				return
			}
			got := make([][]string, 0, len(teams))
			for _, team := range teams {
				var ids []string
				for _, u := range team {
					ids = append(ids, u.members...)
				}
				got = append(got, ids)
			}
			require.Equal(t, tc.wantTeams, got)
		})
	}
}

func TestMatchFormationService_FormMatchesOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		env.join(t, user)
		env.clock.Advance(time.Second)
	}

	got, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got.MatchesFormed)
	require.Equal(t, 4, got.PlayersMatched)

	first, exists, err := env.matches.GetByID(ctx, got.MatchIDs[0])
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, []string{"u1", "u2"}, first.PlayerIDs())
	require.Equal(t, match.StatusWaitingPlayers, first.Status)
	require.NotNil(t, first.TimerExpiresAt)
	require.True(t, first.TimerExpiresAt.Equal(first.CreatedAt.Add(DefaultAbandonThresholdMinutes*time.Minute)))

	// Queue entries stay until the match starts.
	count, err := env.queue.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, count)

	items, err := env.notifications.ListByUser(ctx, "u3", notification.ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, notification.TypeMatchFound, items[0].Type)

	// A second pass must not place matched players again.
	again, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Zero(t, again.MatchesFormed)
}

func TestMatchFormationService_PartyAndLobby(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t, MatchServiceConfig{}, MatchFormationConfig{TeamCount: 2, TeamSize: 2, Mode: "duo"})

	_, err := env.matchmaking.JoinQueue(ctx, JoinQueueInput{
		UserID: "leader",
		Party:  queue.PartyInfo{LobbyID: "lobby-1", GroupMembers: []string{"friend"}},
	})
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	env.join(t, "solo-1")
	env.join(t, "solo-2")

	got, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.MatchesFormed)

	formed, _, err := env.matches.GetByID(ctx, got.MatchIDs[0])
	require.NoError(t, err)
	require.Len(t, formed.Teams, 2)
	require.Equal(t, []match.Player{{ID: "leader"}, {ID: "friend"}}, formed.Teams[0].Players)
	require.Equal(t, "lobby-1", formed.Metadata.LobbyID)
	require.Equal(t, "duo", formed.Metadata.Mode)

	// The whole party is bound to the match.
	_, err = env.matchmaking.JoinQueue(ctx, JoinQueueInput{UserID: "friend"})
	require.ErrorIs(t, err, ErrAlreadyInMatch)
}

func TestMatchFormationService_SkipsOversizedParty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	_, err := env.matchmaking.JoinQueue(ctx, JoinQueueInput{
		UserID: "leader",
		Party:  queue.PartyInfo{GroupMembers: []string{"friend"}},
	})
	require.NoError(t, err)
	env.join(t, "solo")

	got, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Zero(t, got.MatchesFormed)
}

func TestMatchFormationService_RunFormsOnTick(t *testing.T) {
	t.Parallel()

	env := newLifecycleEnv(t)
	env.join(t, "u1")
	env.join(t, "u2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.formation.Run(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		_, found, err := env.matches.FindActiveForUser(context.Background(), "u2")
		return err == nil && found
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestMatchFormationService_RunIgnoresNonPositiveInterval(t *testing.T) {
	t.Parallel()

	env := newLifecycleEnv(t)
	env.join(t, "u1")
	env.join(t, "u2")

	env.formation.Run(context.Background(), 0)

	_, found, err := env.matches.FindActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMatchFormationService_PagesPastPlayersAlreadyMatched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t, MatchServiceConfig{}, MatchFormationConfig{TeamCount: 2, TeamSize: 1, BatchSize: 2})
	env.join(t, "a")
	env.clock.Advance(time.Second)
	env.join(t, "b")
	env.clock.Advance(time.Second)

	first, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.MatchesFormed)

	// a and b still hold the oldest queue slots while their match waits for ready checks.
	env.join(t, "c")
	env.clock.Advance(time.Second)
	env.join(t, "d")

	second, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.MatchesFormed)

	formed, exists, err := env.matches.GetByID(ctx, second.MatchIDs[0])
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, []string{"c", "d"}, formed.PlayerIDs())
}

func TestMatchFormationService_PagesAcrossManyBlockedWindows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t, MatchServiceConfig{}, MatchFormationConfig{TeamCount: 2, TeamSize: 1, BatchSize: 2})
	for i, user := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		env.join(t, user)
		env.clock.Advance(time.Second)
		if i%2 == 1 {
			got, err := env.formation.FormMatches(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, got.MatchesFormed)
		}
	}
	env.join(t, "late-1")
	env.clock.Advance(time.Second)
	env.join(t, "late-2")

	got, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.MatchesFormed)

	formed, _, err := env.matches.GetByID(ctx, got.MatchIDs[0])
	require.NoError(t, err)
	require.Equal(t, []string{"late-1", "late-2"}, formed.PlayerIDs())
}

func TestMatchFormationService_AbandonedUnreadyPlayersAreNotRematched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnvWithConfig(t, MatchServiceConfig{}, MatchFormationConfig{TeamCount: 2, TeamSize: 1, BatchSize: 2})
	env.join(t, "afk1")
	env.clock.Advance(time.Second)
	env.join(t, "afk2")
	env.clock.Advance(time.Second)

	first, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.MatchesFormed)

	env.clock.Advance(11 * time.Minute)
	env.join(t, "c")
	env.clock.Advance(time.Second)
	env.join(t, "d")

	cleanup, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 1, cleanup.Count)
	require.Equal(t, 2, cleanup.QueueEntriesReleased)

	for _, user := range []string{"afk1", "afk2"} {
		_, queued, err := env.queue.FindByUser(ctx, user)
		require.NoError(t, err)
		require.False(t, queued, "%s should have left the queue", user)
	}

	second, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second.MatchesFormed)

	formed, _, err := env.matches.GetByID(ctx, second.MatchIDs[0])
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, formed.PlayerIDs())

	again, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Zero(t, again.MatchesFormed)
}

func TestMatchFormationService_ReadyPlayerKeepsQueuePlaceAfterAbandonment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newLifecycleEnv(t)
	env.join(t, "ready")
	env.clock.Advance(time.Second)
	env.join(t, "afk")

	first, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.MatchesFormed)

	_, err = env.matchSvc.SubmitReady(ctx, SubmitReadyInput{MatchID: first.MatchIDs[0], UserID: "ready", IsReady: true})
	require.NoError(t, err)

	env.clock.Advance(11 * time.Minute)
	cleanup, err := env.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: 10})
	require.NoError(t, err)
	require.Equal(t, 1, cleanup.Count)
	require.Equal(t, 1, cleanup.QueueEntriesReleased)

	_, queued, err := env.queue.FindByUser(ctx, "ready")
	require.NoError(t, err)
	require.True(t, queued)
	_, queued, err = env.queue.FindByUser(ctx, "afk")
	require.NoError(t, err)
	require.False(t, queued)

	env.join(t, "next")
	got, err := env.formation.FormMatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.MatchesFormed)

	formed, _, err := env.matches.GetByID(ctx, got.MatchIDs[0])
	require.NoError(t, err)
	require.Equal(t, []string{"ready", "next"}, formed.PlayerIDs())
}
