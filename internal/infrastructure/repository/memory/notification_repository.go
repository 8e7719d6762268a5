package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
)

type NotificationRepository struct {
	mu     sync.RWMutex
	items  map[string]notification.Notification
	byUser map[string][]string
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		items:  make(map[string]notification.Notification),
		byUser: make(map[string][]string),
	}
}

func (r *NotificationRepository) Create(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[n.ID]; exists {
		return errors.Newf("notification %s already exists", n.ID)
	}
	r.items[n.ID] = cloneNotification(n)
	r.byUser[n.UserID] = append(r.byUser[n.UserID], n.ID)
	return nil
}

func (r *NotificationRepository) ListByUser(_ context.Context, userID string, filter notification.ListFilter) ([]notification.Notification, error) {
	r.mu.RLock()
	ids := r.byUser[userID]
	out := make([]notification.Notification, 0, len(ids))
	for _, id := range ids {
		item := r.items[id]
		if filter.UnreadOnly && item.Read {
			continue
		}
		out = append(out, cloneNotification(item))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.UserID != userID {
		return errors.Wrapf(notification.ErrNotFound, "notification=%s", id)
	}
	item.Read = true
	r.items[id] = item
	return nil
}

func cloneNotification(n notification.Notification) notification.Notification {
	out := n
	out.Data = maps.Clone(n.Data)
	return out
}
