package dynamorepo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
)

// NotificationUserIndex is the GSI (hash userId, range createdAt) used to list a user's notifications.
const NotificationUserIndex = "userId-createdAt-index"

type notificationItem struct {
	ID        string         `dynamodbav:"id"`
	UserID    string         `dynamodbav:"userId"`
	Type      string         `dynamodbav:"type"`
	Read      bool           `dynamodbav:"read"`
	Data      map[string]any `dynamodbav:"data,omitempty"`
	CreatedAt int64          `dynamodbav:"createdAt"`
}

type NotificationRepository struct {
	api   API
	table string
}

func NewNotificationRepository(api API, table string) *NotificationRepository {
	return &NotificationRepository{api: api, table: table}
}

func (r *NotificationRepository) Create(ctx context.Context, n notification.Notification) error {
	item, err := attributevalue.MarshalMap(notificationItem{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Read:      n.Read,
		Data:      n.Data,
		CreatedAt: toMillis(n.CreatedAt),
	})
	if err != nil {
		return errors.Wrap(err, "marshal notification item")
	}

	if _, err := r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return errors.Wrapf(err, "insert notification user=%s type=%s", n.UserID, n.Type)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter notification.ListFilter) ([]notification.Notification, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(r.table),
		IndexName:                aws.String(NotificationUserIndex),
		KeyConditionExpression:   aws.String("userId = :uid"),
		ExpressionAttributeNames: map[string]string{},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": stringValue(userID),
		},
		ScanIndexForward: aws.Bool(false),
	}
	if filter.UnreadOnly {
		input.FilterExpression = aws.String("#read = :false")
		input.ExpressionAttributeNames["#read"] = "read"
		input.ExpressionAttributeValues[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	} else {
		input.ExpressionAttributeNames = nil
	}

	out := make([]notification.Notification, 0)
	paginator := dynamodb.NewQueryPaginator(r.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list notifications user=%s", userID)
		}

		var rows []notificationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, errors.Wrap(err, "unmarshal notification items")
		}
		for _, row := range rows {
			out = append(out, notification.Notification{
				ID:        row.ID,
				UserID:    row.UserID,
				Type:      notification.Type(row.Type),
				Read:      row.Read,
				Data:      row.Data,
				CreatedAt: fromMillis(row.CreatedAt),
			})
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 stringKey("id", id),
		UpdateExpression:    aws.String("SET #read = :true"),
		ConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#read": "read",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
			":uid":  stringValue(userID),
		},
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return errors.Wrapf(notification.ErrNotFound, "notification=%s user=%s", id, userID)
		}
		return errors.Wrapf(err, "mark notification=%s read", id)
	}
	return nil
}
