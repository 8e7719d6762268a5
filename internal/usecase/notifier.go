package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/id"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const defaultNotifyConcurrency = 8

// MatchNotifier writes one notification per match player. Delivery is best effort:
// failures are logged and never fail the lifecycle operation that triggered them.
type MatchNotifier struct {
	repo        notification.Repository
	idGen       id.Generator
	logger      *logging.Logger
	concurrency int
	now         func() time.Time
}

func NewMatchNotifier(repo notification.Repository, idGen id.Generator, logger *logging.Logger) *MatchNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &MatchNotifier{
		repo:        repo,
		idGen:       idGen,
		logger:      logger,
		concurrency: defaultNotifyConcurrency,
		now:         time.Now,
	}
}

// NotifyPlayers returns the number of notifications written.
func (n *MatchNotifier) NotifyPlayers(ctx context.Context, m match.Match, typ notification.Type) int {
	if n == nil || n.repo == nil {
		return 0
	}

	playerIDs := m.PlayerIDs()
	if len(playerIDs) == 0 {
		return 0
	}

	createdAt := n.now().UTC()
	p := pool.New().WithMaxGoroutines(n.concurrency).WithErrors()
	written := make([]bool, len(playerIDs))
	for i, userID := range playerIDs {
		p.Go(func() error {
			notificationID, err := n.idGen.NewID()
			if err != nil {
				return errors.Wrapf(err, "generate notification id user=%s", userID)
			}
			item := notification.Notification{
				ID:     notificationID,
				UserID: userID,
				Type:   typ,
				Data: map[string]any{
					"match_id": m.ID,
					"status":   string(m.Status),
				},
				CreatedAt: createdAt,
			}
			if err := n.repo.Create(ctx, item); err != nil {
				return errors.Wrapf(err, "create notification user=%s", userID)
			}
			written[i] = true
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		n.logger.WarnContext(ctx, "notify match players failed",
			"match_id", m.ID,
			"type", string(typ),
			"error", err,
		)
	}

	count := 0
	for _, ok := range written {
		if ok {
			count++
		}
	}
	return count
}

// NotificationService exposes a user's notifications.
type NotificationService struct {
	repo notification.Repository
}

func NewNotificationService(repo notification.Repository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) List(ctx context.Context, userID string, filter notification.ListFilter) ([]notification.Notification, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.NotificationService.List")
	defer span.End()

	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	items, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, storeErr(err, "list notifications")
	}
	return items, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.NotificationService.MarkRead")
	defer span.End()

	if userID == "" || notificationID == "" {
		return invalidInput("user_id and notification_id are required")
	}
	if err := s.repo.MarkRead(ctx, userID, notificationID); err != nil {
		return storeErr(err, "mark notification read")
	}
	return nil
}
