package redisrepo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

type entryDocument struct {
	UserID       string    `json:"userId"`
	WaitingID    string    `json:"waitingId"`
	LobbyID      string    `json:"lobbyId,omitempty"`
	GroupMembers []string  `json:"groupMembers,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// QueueRepository keeps one JSON document per queued user plus two sorted
// sets indexing users by join time and by last heartbeat (unix millis).
// The document is written once on join; heartbeats only move the by_seen
// score, which is the single source of LastSeenAt.
type QueueRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewQueueRepository(client redis.UniversalClient, prefix string) *QueueRepository {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "matchmaking"
	}
	return &QueueRepository{client: client, prefix: prefix}
}

func (r *QueueRepository) entryKey(userID string) string {
	return r.prefix + ":queue:entry:" + userID
}

func (r *QueueRepository) createdIndexKey() string {
	return r.prefix + ":queue:by_created"
}

func (r *QueueRepository) seenIndexKey() string {
	return r.prefix + ":queue:by_seen"
}

func (r *QueueRepository) Enqueue(ctx context.Context, entry queue.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.LastSeenAt.IsZero() {
		entry.LastSeenAt = entry.CreatedAt
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	created, err := r.client.SetNX(ctx, r.entryKey(entry.UserID), raw, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "enqueue user=%s", entry.UserID)
	}
	if !created {
		return errors.Wrapf(queue.ErrAlreadyQueued, "user=%s", entry.UserID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.createdIndexKey(), redis.Z{Score: score(entry.CreatedAt), Member: entry.UserID})
		pipe.ZAdd(ctx, r.seenIndexKey(), redis.Z{Score: score(entry.LastSeenAt), Member: entry.UserID})
		return nil
	})
	if err != nil {
		r.client.Del(context.WithoutCancel(ctx), r.entryKey(entry.UserID))
		return errors.Wrapf(err, "index queue entry user=%s", entry.UserID)
	}
	return nil
}

func (r *QueueRepository) Dequeue(ctx context.Context, userID string) (bool, error) {
	removed, err := r.DequeueMany(ctx, []string{userID})
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (r *QueueRepository) DequeueMany(ctx context.Context, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(userIDs))
	members := make([]any, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, r.entryKey(userID))
		members = append(members, userID)
	}

	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.createdIndexKey(), members...)
		pipe.ZRem(ctx, r.seenIndexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "dequeue %d users", len(userIDs))
	}
	return int(del.Val()), nil
}

func (r *QueueRepository) FindByUser(ctx context.Context, userID string) (queue.Entry, bool, error) {
	var (
		get  *redis.StringCmd
		seen *redis.FloatCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, r.entryKey(userID))
		seen = pipe.ZScore(ctx, r.seenIndexKey(), userID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return queue.Entry{}, false, errors.Wrapf(err, "find queue entry user=%s", userID)
	}

	raw, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return queue.Entry{}, false, nil
	}
	if err != nil {
		return queue.Entry{}, false, errors.Wrapf(err, "find queue entry user=%s", userID)
	}

	entry, err := decodeEntry(raw, seen)
	if err != nil {
		return queue.Entry{}, false, err
	}
	return entry, true, nil
}

func (r *QueueRepository) ListOldest(ctx context.Context, offset, limit int) ([]queue.Entry, error) {
	start := int64(max(offset, 0))
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	userIDs, err := r.client.ZRange(ctx, r.createdIndexKey(), start, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list queue index")
	}
	if len(userIDs) == 0 {
		return []queue.Entry{}, nil
	}

	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, r.entryKey(userID))
	}

	var mget *redis.SliceCmd
	seen := make([]*redis.FloatCmd, len(userIDs))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		mget = pipe.MGet(ctx, keys...)
		for i, userID := range userIDs {
			seen[i] = pipe.ZScore(ctx, r.seenIndexKey(), userID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "load queue entries")
	}
	values, err := mget.Result()
	if err != nil {
		return nil, errors.Wrap(err, "load queue entries")
	}

	out := make([]queue.Entry, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Dequeued between the index read and the load.
			continue
		}
		entry, err := decodeEntry(raw, seen[i])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Touch moves the heartbeat score only. ZADD XX is a no-op once the user has
// left the queue, and never rewrites the document of a newer join.
func (r *QueueRepository) Touch(ctx context.Context, userID string, seenAt time.Time) error {
	err := r.client.ZAddXX(ctx, r.seenIndexKey(), redis.Z{Score: score(seenAt), Member: userID}).Err()
	if err != nil {
		return errors.Wrapf(err, "touch queue entry user=%s", userID)
	}
	return nil
}

func (r *QueueRepository) DeleteStale(ctx context.Context, seenBefore time.Time) (int, error) {
	userIDs, err := r.client.ZRangeByScore(ctx, r.seenIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(seenBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "list stale queue entries")
	}
	return r.DequeueMany(ctx, userIDs)
}

func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	total, err := r.client.ZCard(ctx, r.createdIndexKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "count queue entries")
	}
	return int(total), nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func encodeEntry(entry queue.Entry) (string, error) {
	raw, err := sonic.MarshalString(entryDocument{
		UserID:       entry.UserID,
		WaitingID:    entry.WaitingID,
		LobbyID:      entry.LobbyID,
		GroupMembers: entry.GroupMembers,
		CreatedAt:    entry.CreatedAt.UTC(),
	})
	if err != nil {
		return "", errors.Wrapf(err, "encode queue entry user=%s", entry.UserID)
	}
	return raw, nil
}

func decodeEntry(raw string, seen *redis.FloatCmd) (queue.Entry, error) {
	var doc entryDocument
	if err := sonic.UnmarshalString(raw, &doc); err != nil {
		return queue.Entry{}, errors.Wrap(err, "decode queue entry")
	}
	entry := queue.Entry{
		UserID:       doc.UserID,
		WaitingID:    doc.WaitingID,
		LobbyID:      doc.LobbyID,
		GroupMembers: doc.GroupMembers,
		CreatedAt:    doc.CreatedAt.UTC(),
		LastSeenAt:   doc.CreatedAt.UTC(),
	}
	if millis, err := seen.Result(); err == nil {
		entry.LastSeenAt = time.UnixMilli(int64(millis)).UTC()
	}
	return entry, nil
}
