package dynamorepo

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

type queueItem struct {
	UserID       string   `dynamodbav:"userId"`
	WaitingID    string   `dynamodbav:"waitingId"`
	LobbyID      string   `dynamodbav:"lobbyId,omitempty"`
	GroupMembers []string `dynamodbav:"groupMembers,omitempty"`
	CreatedAt    int64    `dynamodbav:"createdAt"`
	LastSeenAt   int64    `dynamodbav:"lastSeenAt"`
}

func queueItemFromEntry(entry queue.Entry) queueItem {
	lastSeen := entry.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = entry.CreatedAt
	}
	return queueItem{
		UserID:       entry.UserID,
		WaitingID:    entry.WaitingID,
		LobbyID:      entry.LobbyID,
		GroupMembers: entry.GroupMembers,
		CreatedAt:    toMillis(entry.CreatedAt),
		LastSeenAt:   toMillis(lastSeen),
	}
}

func (i queueItem) toEntry() queue.Entry {
	return queue.Entry{
		UserID:       i.UserID,
		WaitingID:    i.WaitingID,
		LobbyID:      i.LobbyID,
		GroupMembers: i.GroupMembers,
		CreatedAt:    fromMillis(i.CreatedAt),
		LastSeenAt:   fromMillis(i.LastSeenAt),
	}
}

// QueueRepository stores one item per queued user keyed by userId.
type QueueRepository struct {
	api   API
	table string
}

func NewQueueRepository(api API, table string) *QueueRepository {
	return &QueueRepository{api: api, table: table}
}

func (r *QueueRepository) Enqueue(ctx context.Context, entry queue.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(queueItemFromEntry(entry))
	if err != nil {
		return errors.Wrap(err, "marshal queue item")
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(userId)"),
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return errors.Wrapf(queue.ErrAlreadyQueued, "user=%s", entry.UserID)
		}
		return errors.Wrapf(err, "enqueue user=%s", entry.UserID)
	}
	return nil
}

func (r *QueueRepository) Dequeue(ctx context.Context, userID string) (bool, error) {
	out, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.table),
		Key:          stringKey("userId", userID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, errors.Wrapf(err, "dequeue user=%s", userID)
	}
	return len(out.Attributes) > 0, nil
}

func (r *QueueRepository) DequeueMany(ctx context.Context, userIDs []string) (int, error) {
	removed := 0
	for _, userID := range userIDs {
		ok, err := r.Dequeue(ctx, userID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (r *QueueRepository) FindByUser(ctx context.Context, userID string) (queue.Entry, bool, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            stringKey("userId", userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return queue.Entry{}, false, errors.Wrapf(err, "find queue entry user=%s", userID)
	}
	if len(out.Item) == 0 {
		return queue.Entry{}, false, nil
	}

	var item queueItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return queue.Entry{}, false, errors.Wrap(err, "unmarshal queue item")
	}
	return item.toEntry(), true, nil
}

// ListOldest orders a full table scan in process.
func (r *QueueRepository) ListOldest(ctx context.Context, offset, limit int) ([]queue.Entry, error) {
	items, err := scanAll(ctx, r.api, &dynamodb.ScanInput{
		TableName:      aws.String(r.table),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	var rows []queueItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshal queue items")
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt == rows[j].CreatedAt {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].CreatedAt < rows[j].CreatedAt
	})
	offset = min(max(offset, 0), len(rows))
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]queue.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}

func (r *QueueRepository) Touch(ctx context.Context, userID string, seenAt time.Time) error {
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 stringKey("userId", userID),
		UpdateExpression:    aws.String("SET lastSeenAt = :seen"),
		ConditionExpression: aws.String("attribute_exists(userId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seen": millisValue(seenAt),
		},
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return nil
		}
		return errors.Wrapf(err, "touch queue entry user=%s", userID)
	}
	return nil
}

// DeleteStale re-checks the heartbeat on delete so an entry touched after
// the scan survives.
func (r *QueueRepository) DeleteStale(ctx context.Context, seenBefore time.Time) (int, error) {
	cut := millisValue(seenBefore)
	items, err := scanAll(ctx, r.api, &dynamodb.ScanInput{
		TableName:            aws.String(r.table),
		FilterExpression:     aws.String("lastSeenAt < :cut"),
		ProjectionExpression: aws.String("userId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cut": cut,
		},
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, raw := range items {
		var item queueItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return removed, errors.Wrap(err, "unmarshal stale queue item")
		}
		_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(r.table),
			Key:                 stringKey("userId", item.UserID),
			ConditionExpression: aws.String("lastSeenAt < :cut"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cut": cut,
			},
		})
		if err != nil {
			if _, ok := isConditionFailed(err); ok {
				continue
			}
			return removed, errors.Wrapf(err, "delete stale queue entry user=%s", item.UserID)
		}
		removed++
	}
	return removed, nil
}

func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	paginator := dynamodb.NewScanPaginator(r.api, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
		Select:    types.SelectCount,
	})
	total := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "count queue entries")
		}
		total += int(page.Count)
	}
	return total, nil
}
