package dynamorepo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
)

type fakeAPI struct {
	API

	getItem    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	updateItem func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	deleteItem func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	query      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	transact   func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return f.deleteItem(in)
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return f.query(in)
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return f.transact(in)
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return f.putItem(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return f.updateItem(in)
}

func conditionFailed(item map[string]types.AttributeValue) error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed"), Item: item}
}

func testMatch(t *testing.T, status match.Status) (match.Match, map[string]types.AttributeValue) {
	t.Helper()

	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := match.Match{
		ID: "m1",
		Teams: []match.Team{
			{Players: []match.Player{{ID: "a"}}},
			{Players: []match.Player{{ID: "b"}}},
		},
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	item, err := attributevalue.MarshalMap(matchItemFromMatch(m))
	require.NoError(t, err)
	return m, item
}

func TestQueueRepository_EnqueueMapsConditionFailure(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &fakeAPI{putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		captured = in
		return nil, conditionFailed(nil)
	}}
	repo := NewQueueRepository(api, "matchmaking_queue")

	err := repo.Enqueue(context.Background(), queue.Entry{
		UserID:    "u1",
		WaitingID: "w1",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.True(t, errors.Is(err, queue.ErrAlreadyQueued), "expected ErrAlreadyQueued, got %v", err)
	require.Equal(t, "attribute_not_exists(userId)", aws.ToString(captured.ConditionExpression))
	require.Equal(t, "matchmaking_queue", aws.ToString(captured.TableName))
}

func TestMatchRepository_CreateWritesMembershipRows(t *testing.T) {
	m, _ := testMatch(t, match.StatusWaitingPlayers)
	var captured *dynamodb.TransactWriteItemsInput
	api := &fakeAPI{transact: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		captured = in
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}}
	repo := NewMatchRepository(api, "matches", "match_players")

	require.NoError(t, repo.Create(context.Background(), m))
	require.Len(t, captured.TransactItems, 3)
	require.Equal(t, "matches", aws.ToString(captured.TransactItems[0].Put.TableName))
	require.Equal(t, "attribute_not_exists(id)", aws.ToString(captured.TransactItems[0].Put.ConditionExpression))

	for i, player := range []string{"a", "b"} {
		put := captured.TransactItems[i+1].Put
		require.Equal(t, "match_players", aws.ToString(put.TableName))
		var row membershipItem
		require.NoError(t, attributevalue.UnmarshalMap(put.Item, &row))
		require.Equal(t, membershipItem{UserID: player, MatchID: "m1", CreatedAt: m.CreatedAt.UnixMilli()}, row)
	}

	api.transact = func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}, {Code: aws.String("None")}},
		}
	}
	err := repo.Create(context.Background(), m)
	require.ErrorContains(t, err, "match m1 already exists")
}

func TestMatchRepository_FindActiveForUserQueriesMemberships(t *testing.T) {
	older, _ := testMatch(t, match.StatusWaitingPlayers)
	newer := older.Clone()
	newer.ID = "m2"
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	ended := older.Clone()
	ended.ID = "m3"
	ended.Status = match.StatusFinished
	ended.CreatedAt = older.CreatedAt.Add(2 * time.Minute)

	stored := make(map[string]map[string]types.AttributeValue)
	for _, m := range []match.Match{older, newer, ended} {
		item, err := attributevalue.MarshalMap(matchItemFromMatch(m))
		require.NoError(t, err)
		stored[m.ID] = item
	}

	var queried *dynamodb.QueryInput
	api := &fakeAPI{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			queried = in
			rows := make([]map[string]types.AttributeValue, 0, 4)
			for _, id := range []string{"m1", "m2", "m3", "gone"} {
				row, err := attributevalue.MarshalMap(membershipItem{UserID: "a", MatchID: id})
				require.NoError(t, err)
				rows = append(rows, row)
			}
			return &dynamodb.QueryOutput{Items: rows}, nil
		},
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			id := in.Key["id"].(*types.AttributeValueMemberS).Value
			return &dynamodb.GetItemOutput{Item: stored[id]}, nil
		},
	}
	repo := NewMatchRepository(api, "matches", "match_players")

	got, found, err := repo.FindActiveForUser(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "m2", got.ID)
	require.Equal(t, "match_players", aws.ToString(queried.TableName))
	require.Equal(t, "userId = :uid", aws.ToString(queried.KeyConditionExpression))

	_, found, err = repo.FindActiveForUser(context.Background(), "stranger")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMatchRepository_ListStaleQueriesStatusIndex(t *testing.T) {
	_, waiting := testMatch(t, match.StatusWaitingPlayers)
	cut := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)

	var statuses []string
	api := &fakeAPI{query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		require.Equal(t, StatusCreatedIndex, aws.ToString(in.IndexName))
		require.Equal(t, "#status = :s AND createdAt < :cut", aws.ToString(in.KeyConditionExpression))
		require.Equal(t, int32(5), aws.ToInt32(in.Limit))
		status := in.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value
		statuses = append(statuses, status)
		if status == string(match.StatusWaitingPlayers) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{waiting}}, nil
		}
		return &dynamodb.QueryOutput{}, nil
	}}

	got, err := NewMatchRepository(api, "matches", "match_players").ListStale(context.Background(), cut, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
	require.Equal(t, []string{"waiting_players", "waiting", "ready"}, statuses)
}

func TestMatchRepository_TerminalTransitionDropsMemberships(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	_, abandoned := testMatch(t, match.StatusAbandoned)

	var deleted []string
	api := &fakeAPI{
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: abandoned}, nil
		},
		deleteItem: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			require.Equal(t, "match_players", aws.ToString(in.TableName))
			require.Equal(t, &types.AttributeValueMemberS{Value: "m1"}, in.Key["matchId"])
			deleted = append(deleted, in.Key["userId"].(*types.AttributeValueMemberS).Value)
			return nil, errors.New("throttled")
		},
	}

	got, err := NewMatchRepository(api, "matches", "match_players").Transition(context.Background(), "m1", match.AbandonTransition(at))
	require.NoError(t, err)
	require.Equal(t, match.StatusAbandoned, got.Status)
	require.Equal(t, []string{"a", "b"}, deleted)
}

func TestMatchRepository_TransitionOutcomes(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

	t.Run("missing match", func(t *testing.T) {
		api := &fakeAPI{updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed(nil)
		}}
		_, err := NewMatchRepository(api, "matches", "match_players").Transition(context.Background(), "m1", match.StartTransition(at))
		require.True(t, errors.Is(err, match.ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("already started", func(t *testing.T) {
		_, old := testMatch(t, match.StatusInProgress)
		api := &fakeAPI{updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed(old)
		}}
		_, err := NewMatchRepository(api, "matches", "match_players").Transition(context.Background(), "m1", match.StartTransition(at))
		require.True(t, errors.Is(err, match.ErrInvalidTransition), "expected ErrInvalidTransition, got %v", err)
	})

	t.Run("applied", func(t *testing.T) {
		_, updated := testMatch(t, match.StatusInProgress)
		api := &fakeAPI{updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
		}}
		got, err := NewMatchRepository(api, "matches", "match_players").Transition(context.Background(), "m1", match.StartTransition(at))
		require.NoError(t, err)
		require.Equal(t, match.StatusInProgress, got.Status)
		require.Equal(t, []string{"a", "b"}, got.PlayerIDs())
	})
}

func TestTransitionInput_IncludesLegacyStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	in := transitionInput("matches", "m1", match.AbandonTransition(at))

	require.Equal(t, "#status IN (:from0, :from1, :from2)", aws.ToString(in.ConditionExpression))
	require.Equal(t, "SET #status = :to, updatedAt = :at, finishedAt = :at", aws.ToString(in.UpdateExpression))
	require.Equal(t, &types.AttributeValueMemberS{Value: "waiting"}, in.ExpressionAttributeValues[":from1"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "abandoned"}, in.ExpressionAttributeValues[":to"])
}

func TestMatchRepository_SetPlayerReadyTargetsOneElement(t *testing.T) {
	_, item := testMatch(t, match.StatusWaitingPlayers)
	var captured *dynamodb.UpdateItemInput
	api := &fakeAPI{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			captured = in
			return &dynamodb.UpdateItemOutput{Attributes: item}, nil
		},
	}
	repo := NewMatchRepository(api, "matches", "match_players")

	_, err := repo.SetPlayerReady(context.Background(), "m1", "b", true, time.Now())
	require.NoError(t, err)
	require.Equal(t, "SET #teams[1].#players[0].#isReady = :ready, #updatedAt = :at", aws.ToString(captured.UpdateExpression))
	require.Equal(t, "#teams[1].#players[0].#id = :uid", aws.ToString(captured.ConditionExpression))

	_, err = repo.SetPlayerReady(context.Background(), "m1", "stranger", true, time.Now())
	require.True(t, errors.Is(err, match.ErrPlayerNotInMatch), "expected ErrPlayerNotInMatch, got %v", err)
}

func TestMatchItem_PreservesMatchFields(t *testing.T) {
	m, _ := testMatch(t, match.StatusReady)
	m.Metadata = match.Metadata{LobbyID: "lobby-1"}
	expires := m.CreatedAt.Add(10 * time.Minute)
	m.TimerExpiresAt = &expires

	item, err := attributevalue.MarshalMap(matchItemFromMatch(m))
	require.NoError(t, err)

	got, err := decodeMatch(item)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, match.StatusReady, got.Status)
	require.Equal(t, "lobby-1", got.Metadata.LobbyID)
	require.NotNil(t, got.TimerExpiresAt)
	require.True(t, got.TimerExpiresAt.Equal(expires))
	require.Nil(t, got.StartedAt)
}

func TestNotificationRepository_MarkReadForeignUser(t *testing.T) {
	api := &fakeAPI{updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed(nil)
	}}
	err := NewNotificationRepository(api, "notifications").MarkRead(context.Background(), "u1", "n1")
	require.True(t, errors.Is(err, notification.ErrNotFound), "expected ErrNotFound, got %v", err)
}
