package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/id"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const maxGroupMembers = 16

type JoinQueueInput struct {
	UserID string
	Party  queue.PartyInfo
}

type JoinQueueResult struct {
	WaitingID string
	Entry     queue.Entry
}

type CancelQueueInput struct {
	UserID    string
	WaitingID string
}

type PollStatusInput struct {
	UserID    string
	WaitingID string
}

type PollStatusResult struct {
	MatchFound     bool
	Match          *match.Match
	WaitingSeconds int64
}

// MatchmakingService owns queue admission and status polling.
type MatchmakingService struct {
	queueRepo queue.Repository
	matchRepo match.Repository
	idGen     id.Generator
	metrics   MetricsRecorder
	logger    *logging.Logger
	now       func() time.Time
}

func NewMatchmakingService(
	queueRepo queue.Repository,
	matchRepo match.Repository,
	idGen id.Generator,
	metrics MetricsRecorder,
	logger *logging.Logger,
) *MatchmakingService {
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MatchmakingService{
		queueRepo: queueRepo,
		matchRepo: matchRepo,
		idGen:     idGen,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *MatchmakingService) JoinQueue(ctx context.Context, input JoinQueueInput) (JoinQueueResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchmakingService.JoinQueue")
	defer span.End()

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return JoinQueueResult{}, invalidInput("user_id is required")
	}
	members, err := normalizeGroupMembers(userID, input.Party.GroupMembers)
	if err != nil {
		return JoinQueueResult{}, err
	}

	active, exists, err := s.matchRepo.FindActiveForUser(ctx, userID)
	if err != nil {
		return JoinQueueResult{}, storeErr(err, "find active match for user")
	}
	if exists {
		return JoinQueueResult{}, errors.Wrapf(ErrAlreadyInMatch, "user=%s match=%s", userID, active.ID)
	}

	waitingID, err := s.idGen.NewID()
	if err != nil {
		return JoinQueueResult{}, errors.Wrap(err, "generate waiting id")
	}

	now := s.now().UTC()
	entry := queue.Entry{
		UserID:       userID,
		WaitingID:    waitingID,
		LobbyID:      strings.TrimSpace(input.Party.LobbyID),
		GroupMembers: members,
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	if err := s.queueRepo.Enqueue(ctx, entry); err != nil {
		return JoinQueueResult{}, storeErr(err, "enqueue user")
	}

	s.metrics.QueueJoined()
	span.SetAttributes(attribute.String("matchmaking.waiting_id", waitingID))
	s.logger.InfoContext(ctx, "user joined matchmaking queue",
		"user_id", userID,
		"waiting_id", waitingID,
		"lobby_id", entry.LobbyID,
		"group_size", len(members)+1,
	)

	return JoinQueueResult{WaitingID: waitingID, Entry: entry}, nil
}

// CancelQueue removes the caller's entry and reports whether one existed.
// A non-empty WaitingID must match the stored attempt.
func (s *MatchmakingService) CancelQueue(ctx context.Context, input CancelQueueInput) (bool, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchmakingService.CancelQueue")
	defer span.End()

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return false, invalidInput("user_id is required")
	}

	waitingID := strings.TrimSpace(input.WaitingID)
	if waitingID != "" {
		entry, exists, err := s.queueRepo.FindByUser(ctx, userID)
		if err != nil {
			return false, storeErr(err, "find queue entry")
		}
		if !exists || entry.WaitingID != waitingID {
			return false, nil
		}
	}

	removed, err := s.queueRepo.Dequeue(ctx, userID)
	if err != nil {
		return false, storeErr(err, "dequeue user")
	}
	if removed {
		s.metrics.QueueLeft(queueLeftCancelled, 1)
		s.logger.InfoContext(ctx, "user left matchmaking queue", "user_id", userID)
	}

	return removed, nil
}

// PollStatus reports an active match first; otherwise the time spent waiting.
func (s *MatchmakingService) PollStatus(ctx context.Context, input PollStatusInput) (PollStatusResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchmakingService.PollStatus")
	defer span.End()

	userID := strings.TrimSpace(input.UserID)
	waitingID := strings.TrimSpace(input.WaitingID)
	if userID == "" || waitingID == "" {
		return PollStatusResult{}, invalidInput("user_id and waiting_id are required")
	}

	active, exists, err := s.matchRepo.FindActiveForUser(ctx, userID)
	if err != nil {
		return PollStatusResult{}, storeErr(err, "find active match for user")
	}
	now := s.now().UTC()
	if exists {
		// Players keep their queue slot until the match starts, so polling keeps it alive.
		s.heartbeat(ctx, userID, now)
		return PollStatusResult{MatchFound: true, Match: &active}, nil
	}

	entry, exists, err := s.queueRepo.FindByUser(ctx, userID)
	if err != nil {
		return PollStatusResult{}, storeErr(err, "find queue entry")
	}
	if !exists {
		return PollStatusResult{}, errors.Wrapf(ErrNoLongerQueued, "user=%s", userID)
	}
	if entry.WaitingID != waitingID {
		return PollStatusResult{}, errors.Wrapf(ErrNoLongerQueued, "user=%s superseded by a newer attempt", userID)
	}

	s.heartbeat(ctx, userID, now)
	return PollStatusResult{
		MatchFound:     false,
		WaitingSeconds: entry.WaitingSeconds(now),
	}, nil
}

func (s *MatchmakingService) heartbeat(ctx context.Context, userID string, at time.Time) {
	if err := s.queueRepo.Touch(ctx, userID, at); err != nil {
		s.logger.WarnContext(ctx, "record queue heartbeat failed", "user_id", userID, "error", err)
	}
}

func normalizeGroupMembers(userID string, members []string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(members))
	seen := map[string]struct{}{userID: {}}
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		out = append(out, member)
	}
	if len(out) > maxGroupMembers {
		return nil, invalidInput("group_members cannot exceed %d users", maxGroupMembers)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
