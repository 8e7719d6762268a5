package usecase

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/jobscheduler"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const (
	JobPathCleanupAbandoned = "/v1/matchmaking/cleanup"
	JobPathFormMatches      = "/v1/internal/jobs/form-matches"

	jobNameCleanupAbandoned = "cleanup-abandoned"
	jobNameFormMatches      = "form-matches"
)

type JobQueue interface {
	Enqueue(ctx context.Context, path string, payload any, delay time.Duration, deduplicationID string) error
}

type noopJobQueue struct{}

func (noopJobQueue) Enqueue(_ context.Context, _ string, _ any, _ time.Duration, _ string) error {
	return nil
}

func NewNoopJobQueue() JobQueue {
	return noopJobQueue{}
}

type JobOrchestratorConfig struct {
	CleanupInterval   time.Duration
	FormationInterval time.Duration
	AbandonThreshold  time.Duration
	// Remote dispatches jobs through the queue; otherwise they run in-process.
	Remote bool
}

// JobOrchestratorService drives the periodic abandonment sweep and match formation,
// either by publishing to the external job queue or by calling the services directly.
type JobOrchestratorService struct {
	matchSvc     *MatchService
	formationSvc *MatchFormationService
	queue        JobQueue
	dispatchRepo jobscheduler.Repository
	cfg          JobOrchestratorConfig
	logger       *logging.Logger
	now          func() time.Time
}

var dedupUnsafeCharRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func NewJobOrchestratorService(
	matchSvc *MatchService,
	formationSvc *MatchFormationService,
	queue JobQueue,
	dispatchRepo jobscheduler.Repository,
	cfg JobOrchestratorConfig,
	logger *logging.Logger,
) *JobOrchestratorService {
	if queue == nil {
		queue = NewNoopJobQueue()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.AbandonThreshold < time.Minute {
		cfg.AbandonThreshold = DefaultAbandonThresholdMinutes * time.Minute
	}

	return &JobOrchestratorService{
		matchSvc:     matchSvc,
		formationSvc: formationSvc,
		queue:        queue,
		dispatchRepo: dispatchRepo,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Run ticks the cleanup (and, when configured, formation) schedule until ctx is done.
func (s *JobOrchestratorService) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	var formationTick <-chan time.Time
	if s.cfg.FormationInterval > 0 {
		formationTicker := time.NewTicker(s.cfg.FormationInterval)
		defer formationTicker.Stop()
		formationTick = formationTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			if err := s.TriggerCleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "scheduled cleanup failed", "error", err)
			}
		case <-formationTick:
			if err := s.TriggerFormation(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "scheduled match formation failed", "error", err)
			}
		}
	}
}

func (s *JobOrchestratorService) TriggerCleanup(ctx context.Context) error {
	minutes := int(s.cfg.AbandonThreshold / time.Minute)
	if !s.cfg.Remote {
		if s.matchSvc == nil {
			return nil
		}
		_, err := s.matchSvc.CleanupAbandoned(ctx, CleanupAbandonedInput{ThresholdMinutes: minutes})
		return err
	}

	payload := map[string]any{"thresholdMinutes": minutes}
	return s.enqueue(ctx, jobNameCleanupAbandoned, JobPathCleanupAbandoned, payload, s.cfg.CleanupInterval)
}

func (s *JobOrchestratorService) TriggerFormation(ctx context.Context) error {
	if !s.cfg.Remote {
		if s.formationSvc == nil {
			return nil
		}
		_, err := s.formationSvc.FormMatches(ctx)
		return err
	}
	return s.enqueue(ctx, jobNameFormMatches, JobPathFormMatches, map[string]any{}, s.cfg.FormationInterval)
}

func (s *JobOrchestratorService) enqueue(ctx context.Context, name, path string, payload map[string]any, bucket time.Duration) error {
	now := s.now().UTC()
	dedupID := dedupKey(name, "global", now, bucket)
	payload["dispatch_id"] = dedupID

	event := jobscheduler.Event{
		DispatchID: dedupID,
		Job:        name,
		Path:       path,
		Status:     jobscheduler.StatusSent,
		Payload:    payload,
		OccurredAt: now,
	}
	if err := s.queue.Enqueue(ctx, path, payload, 0, dedupID); err != nil {
		event.Status = jobscheduler.StatusFailed
		event.ErrorMessage = err.Error()
		s.recordDispatchEvent(ctx, event)
		return errors.Wrapf(err, "enqueue %s", name)
	}
	s.recordDispatchEvent(ctx, event)
	return nil
}

// MarkCompleted records that a dispatched job reached its handler.
func (s *JobOrchestratorService) MarkCompleted(ctx context.Context, dispatchID, path string, jobErr error) {
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return
	}
	event := jobscheduler.Event{
		DispatchID: dispatchID,
		Path:       path,
		Status:     jobscheduler.StatusCompleted,
		OccurredAt: s.now().UTC(),
	}
	if jobErr != nil {
		event.Status = jobscheduler.StatusFailed
		event.ErrorMessage = jobErr.Error()
	}
	s.recordDispatchEvent(ctx, event)
}

func dedupKey(prefix, scope string, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Minute
	}
	slot := at.UTC().Truncate(bucket).Format("20060102T150405Z")
	return sanitizeDedupSegment(prefix) + "-" + sanitizeDedupSegment(scope) + "-" + slot
}

func sanitizeDedupSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return dedupUnsafeCharRegex.ReplaceAllString(value, "-")
}

func (s *JobOrchestratorService) recordDispatchEvent(ctx context.Context, event jobscheduler.Event) {
	if s.dispatchRepo == nil || strings.TrimSpace(event.DispatchID) == "" {
		return
	}
	event.TraceID, event.SpanID = traceMetaFromContext(ctx)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.dispatchRepo.RecordEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "record job dispatch event failed",
			"dispatch_id", event.DispatchID,
			"status", event.Status,
			"error", err,
		)
	}
}

func traceMetaFromContext(ctx context.Context) (string, string) {
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if !spanContext.IsValid() {
		return "", ""
	}
	return spanContext.TraceID().String(), spanContext.SpanID().String()
}
