package usecase

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const (
	DefaultAbandonThresholdMinutes = 10
	maxAbandonThresholdMinutes     = 7 * 24 * 60
	defaultCleanupWorkers          = 8
	defaultCleanupBatchSize        = 100
)

type MatchServiceConfig struct {
	CleanupWorkers    int
	CleanupBatchSize  int
	QueueHeartbeatTTL time.Duration
}

type SubmitReadyInput struct {
	MatchID string
	UserID  string
	IsReady bool
}

type SubmitReadyResult struct {
	AllPlayersReady bool
	Match           match.Match
}

type StartMatchInput struct {
	MatchID     string
	TriggeredBy string
}

type StartMatchResult struct {
	PlayersJoined           []string
	PlayersRemovedFromQueue int
	Match                   match.Match
}

type CleanupAbandonedInput struct {
	ThresholdMinutes int
}

type CleanupAbandonedResult struct {
	Count                int
	QueueEntriesReleased int
	QueueEntriesExpired  int
}

// MatchService drives a formed match through readiness, start and termination.
type MatchService struct {
	matchRepo match.Repository
	queueRepo queue.Repository
	notifier  *MatchNotifier
	metrics   MetricsRecorder
	cfg       MatchServiceConfig
	sweeps    singleflight.Group
	logger    *logging.Logger
	now       func() time.Time
}

func NewMatchService(
	matchRepo match.Repository,
	queueRepo queue.Repository,
	notifier *MatchNotifier,
	metrics MetricsRecorder,
	cfg MatchServiceConfig,
	logger *logging.Logger,
) *MatchService {
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CleanupWorkers < 1 {
		cfg.CleanupWorkers = defaultCleanupWorkers
	}
	if cfg.CleanupBatchSize < 1 {
		cfg.CleanupBatchSize = defaultCleanupBatchSize
	}

	return &MatchService{
		matchRepo: matchRepo,
		queueRepo: queueRepo,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *MatchService) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchService.GetMatch")
	defer span.End()

	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return match.Match{}, invalidInput("match_id is required")
	}

	item, exists, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return match.Match{}, storeErr(err, "get match")
	}
	if !exists {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	return item, nil
}

// SubmitReady records a player's readiness. It never changes the match status;
// callers observing AllPlayersReady issue StartMatch explicitly.
func (s *MatchService) SubmitReady(ctx context.Context, input SubmitReadyInput) (SubmitReadyResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchService.SubmitReady",
		attribute.String("match.id", input.MatchID),
	)
	defer span.End()

	matchID := strings.TrimSpace(input.MatchID)
	userID := strings.TrimSpace(input.UserID)
	if matchID == "" || userID == "" {
		return SubmitReadyResult{}, invalidInput("match_id and user_id are required")
	}

	updated, err := s.matchRepo.SetPlayerReady(ctx, matchID, userID, input.IsReady, s.now().UTC())
	if err != nil {
		return SubmitReadyResult{}, storeErr(err, "set player ready")
	}

	allReady := match.AllReady(updated)
	s.logger.InfoContext(ctx, "player readiness updated",
		"match_id", matchID,
		"user_id", userID,
		"is_ready", input.IsReady,
		"all_ready", allReady,
	)

	return SubmitReadyResult{AllPlayersReady: allReady, Match: updated}, nil
}

// StartMatch moves a pre-start match to in_progress and releases its players'
// queue entries. Only the caller that wins the status transition dequeues.
func (s *MatchService) StartMatch(ctx context.Context, input StartMatchInput) (StartMatchResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchService.StartMatch",
		attribute.String("match.id", input.MatchID),
	)
	defer span.End()

	matchID := strings.TrimSpace(input.MatchID)
	if matchID == "" {
		return StartMatchResult{}, invalidInput("match_id is required")
	}

	current, exists, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return StartMatchResult{}, storeErr(err, "get match")
	}
	if !exists {
		return StartMatchResult{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	if current.PlayerCount() == 0 {
		return StartMatchResult{}, invalidInput("match %s has no players", matchID)
	}
	triggeredBy := strings.TrimSpace(input.TriggeredBy)
	if triggeredBy != "" && !current.HasPlayer(triggeredBy) {
		return StartMatchResult{}, errors.Wrapf(match.ErrPlayerNotInMatch, "match=%s user=%s", matchID, triggeredBy)
	}

	started, err := s.matchRepo.Transition(ctx, matchID, match.StartTransition(s.now().UTC()))
	if err != nil {
		return StartMatchResult{}, storeErr(err, "start match")
	}
	s.metrics.MatchTransitioned(match.StatusInProgress)

	// The match is in progress from here on; a failed release is reported as
	// zero removals. Leftover entries are skipped by formation and by join.
	playerIDs := started.PlayerIDs()
	removed, err := s.queueRepo.DequeueMany(ctx, playerIDs)
	if err != nil {
		s.logger.ErrorContext(ctx, "release queue entries for started match failed",
			"match_id", matchID,
			"player_count", len(playerIDs),
			"error", err,
		)
		removed = 0
	}
	s.metrics.QueueLeft(queueLeftStarted, removed)
	s.notifier.NotifyPlayers(ctx, started, notification.TypeMatchStarted)

	s.logger.InfoContext(ctx, "match started",
		"match_id", matchID,
		"triggered_by", triggeredBy,
		"players", len(playerIDs),
		"removed_from_queue", removed,
	)

	return StartMatchResult{
		PlayersJoined:           playerIDs,
		PlayersRemovedFromQueue: removed,
		Match:                   started,
	}, nil
}

func (s *MatchService) FinishMatch(ctx context.Context, matchID string) (match.Match, error) {
	return s.terminate(ctx, "usecase.MatchService.FinishMatch", matchID, match.FinishTransition, notification.TypeMatchFinished)
}

func (s *MatchService) CancelMatch(ctx context.Context, matchID string) (match.Match, error) {
	return s.terminate(ctx, "usecase.MatchService.CancelMatch", matchID, match.CancelTransition, notification.TypeMatchCancelled)
}

func (s *MatchService) terminate(
	ctx context.Context,
	spanName string,
	matchID string,
	transition func(time.Time) match.Transition,
	notifyType notification.Type,
) (match.Match, error) {
	ctx, span := startUsecaseSpan(ctx, spanName, attribute.String("match.id", matchID))
	defer span.End()

	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return match.Match{}, invalidInput("match_id is required")
	}

	t := transition(s.now().UTC())
	updated, err := s.matchRepo.Transition(ctx, matchID, t)
	if err != nil {
		return match.Match{}, storeErr(err, "transition match to "+string(t.To))
	}
	s.metrics.MatchTransitioned(updated.Status)
	s.notifier.NotifyPlayers(ctx, updated, notifyType)
	s.logger.InfoContext(ctx, "match terminated", "match_id", matchID, "status", string(updated.Status))
	return updated, nil
}

// CleanupAbandoned abandons pre-start matches older than the threshold and,
// when a heartbeat TTL is configured, expires silent queue entries.
// Concurrent sweeps with the same threshold share one run.
func (s *MatchService) CleanupAbandoned(ctx context.Context, input CleanupAbandonedInput) (CleanupAbandonedResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchService.CleanupAbandoned")
	defer span.End()

	minutes := input.ThresholdMinutes
	if minutes == 0 {
		minutes = DefaultAbandonThresholdMinutes
	}
	if minutes < 1 || minutes > maxAbandonThresholdMinutes {
		return CleanupAbandonedResult{}, invalidInput("threshold_minutes must be between 1 and %d", maxAbandonThresholdMinutes)
	}

	// The sweep is not cancellable once begun.
	sweepCtx := context.WithoutCancel(ctx)
	value, err, shared := s.sweeps.Do("cleanup:"+strconv.Itoa(minutes), func() (any, error) {
		return s.cleanup(sweepCtx, time.Duration(minutes)*time.Minute)
	})
	result, _ := value.(CleanupAbandonedResult)
	span.SetAttributes(
		attribute.Int("cleanup.abandoned", result.Count),
		attribute.Bool("cleanup.shared", shared),
	)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *MatchService) cleanup(ctx context.Context, threshold time.Duration) (CleanupAbandonedResult, error) {
	now := s.now().UTC()
	cutoff := now.Add(-threshold)
	result := CleanupAbandonedResult{}

	for {
		stale, err := s.matchRepo.ListStale(ctx, cutoff, s.cfg.CleanupBatchSize)
		if err != nil {
			return result, storeErr(err, "list stale matches")
		}
		if len(stale) == 0 {
			break
		}

		abandoned, released, err := s.abandonAll(ctx, stale, now)
		result.Count += abandoned
		result.QueueEntriesReleased += released
		if err != nil {
			return result, err
		}
		if abandoned == 0 || len(stale) < s.cfg.CleanupBatchSize {
			break
		}
	}

	if s.cfg.QueueHeartbeatTTL > 0 {
		expired, err := s.queueRepo.DeleteStale(ctx, now.Add(-s.cfg.QueueHeartbeatTTL))
		if err != nil {
			return result, storeErr(err, "expire silent queue entries")
		}
		result.QueueEntriesExpired = expired
		s.metrics.QueueLeft(queueLeftExpired, expired)
	}

	s.logger.InfoContext(ctx, "abandonment sweep finished",
		"threshold", threshold.String(),
		"abandoned", result.Count,
		"queue_entries_released", result.QueueEntriesReleased,
		"queue_entries_expired", result.QueueEntriesExpired,
	)
	return result, nil
}

// abandonAll abandons each stale match on the worker pool. Players who never
// confirmed lose their queue entry; players who did keep their place.
func (s *MatchService) abandonAll(ctx context.Context, stale []match.Match, now time.Time) (int, int, error) {
	pool, err := ants.NewPool(min(s.cfg.CleanupWorkers, len(stale)))
	if err != nil {
		return 0, 0, errors.Wrap(err, "create cleanup worker pool")
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		abandoned atomic.Int32
		released  atomic.Int32
		errMu     sync.Mutex
		firstErr  error
	)
	for _, item := range stale {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()

			updated, err := s.matchRepo.Transition(ctx, item.ID, match.AbandonTransition(now))
			switch {
			case errors.Is(err, match.ErrInvalidTransition), errors.Is(err, match.ErrNotFound):
				s.logger.DebugContext(ctx, "stale match moved on before abandonment", "match_id", item.ID)
				return
			case err != nil:
				s.logger.WarnContext(ctx, "abandon stale match failed", "match_id", item.ID, "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = storeErr(err, "abandon match "+item.ID)
				}
				errMu.Unlock()
				return
			}

			abandoned.Add(1)
			s.metrics.MatchTransitioned(match.StatusAbandoned)
			released.Add(int32(s.releaseUnready(ctx, updated)))
			s.notifier.NotifyPlayers(ctx, updated, notification.TypeMatchAbandoned)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return int(abandoned.Load()), int(released.Load()), errors.Wrap(err, "submit cleanup task")
		}
	}
	wg.Wait()

	return int(abandoned.Load()), int(released.Load()), firstErr
}

func (s *MatchService) releaseUnready(ctx context.Context, abandoned match.Match) int {
	unready := abandoned.UnreadyPlayerIDs()
	if len(unready) == 0 {
		return 0
	}
	removed, err := s.queueRepo.DequeueMany(ctx, unready)
	if err != nil {
		s.logger.WarnContext(ctx, "release unready players from queue failed",
			"match_id", abandoned.ID,
			"players", len(unready),
			"error", err,
		)
		return 0
	}
	s.metrics.QueueLeft(queueLeftUnready, removed)
	return removed
}
