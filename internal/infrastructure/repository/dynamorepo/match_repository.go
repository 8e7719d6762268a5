package dynamorepo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
)

type playerItem struct {
	ID      string `dynamodbav:"id"`
	IsReady bool   `dynamodbav:"isReady"`
}

type teamItem struct {
	Players []playerItem `dynamodbav:"players"`
}

type matchItem struct {
	ID             string     `dynamodbav:"id"`
	Status         string     `dynamodbav:"status"`
	Teams          []teamItem `dynamodbav:"teams"`
	PlayerIDs      []string   `dynamodbav:"playerIds"`
	LobbyID        string     `dynamodbav:"lobbyId,omitempty"`
	Mode           string     `dynamodbav:"mode,omitempty"`
	CreatedAt      int64      `dynamodbav:"createdAt"`
	UpdatedAt      int64      `dynamodbav:"updatedAt"`
	StartedAt      *int64     `dynamodbav:"startedAt,omitempty"`
	FinishedAt     *int64     `dynamodbav:"finishedAt,omitempty"`
	TimerExpiresAt *int64     `dynamodbav:"timerExpiresAt,omitempty"`
}

func matchItemFromMatch(m match.Match) matchItem {
	status := m.Status
	if status == "" {
		status = match.StatusWaitingPlayers
	}
	teams := make([]teamItem, 0, len(m.Teams))
	for _, team := range m.Teams {
		item := teamItem{Players: make([]playerItem, 0, len(team.Players))}
		for _, p := range team.Players {
			item.Players = append(item.Players, playerItem{ID: p.ID, IsReady: p.IsReady})
		}
		teams = append(teams, item)
	}
	return matchItem{
		ID:             m.ID,
		Status:         string(status),
		Teams:          teams,
		PlayerIDs:      m.PlayerIDs(),
		LobbyID:        m.Metadata.LobbyID,
		Mode:           m.Metadata.Mode,
		CreatedAt:      toMillis(m.CreatedAt),
		UpdatedAt:      toMillis(m.UpdatedAt),
		StartedAt:      toMillisPtr(m.StartedAt),
		FinishedAt:     toMillisPtr(m.FinishedAt),
		TimerExpiresAt: toMillisPtr(m.TimerExpiresAt),
	}
}

func (i matchItem) toMatch() (match.Match, error) {
	status, err := match.ParseStatus(i.Status)
	if err != nil {
		return match.Match{}, errors.Wrapf(err, "match=%s", i.ID)
	}
	teams := make([]match.Team, 0, len(i.Teams))
	for _, t := range i.Teams {
		team := match.Team{Players: make([]match.Player, 0, len(t.Players))}
		for _, p := range t.Players {
			team.Players = append(team.Players, match.Player{ID: p.ID, IsReady: p.IsReady})
		}
		teams = append(teams, team)
	}
	return match.Match{
		ID:             i.ID,
		Teams:          teams,
		Status:         status,
		Metadata:       match.Metadata{LobbyID: i.LobbyID, Mode: i.Mode},
		CreatedAt:      fromMillis(i.CreatedAt),
		UpdatedAt:      fromMillis(i.UpdatedAt),
		StartedAt:      fromMillisPtr(i.StartedAt),
		FinishedAt:     fromMillisPtr(i.FinishedAt),
		TimerExpiresAt: fromMillisPtr(i.TimerExpiresAt),
	}, nil
}

func decodeMatch(raw map[string]types.AttributeValue) (match.Match, error) {
	var item matchItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return match.Match{}, errors.Wrap(err, "unmarshal match item")
	}
	return item.toMatch()
}

func decodeMatches(raw []map[string]types.AttributeValue) ([]match.Match, error) {
	out := make([]match.Match, 0, len(raw))
	for _, item := range raw {
		m, err := decodeMatch(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// StatusCreatedIndex is the GSI on the match table keyed by status (hash)
// and createdAt (range), used by the abandonment sweep.
const StatusCreatedIndex = "status-createdAt-index"

// membershipItem lives in the player table (hash userId, range matchId). Rows
// are written with the match and removed when it ends; the match item stays
// the source of truth for status.
type membershipItem struct {
	UserID    string `dynamodbav:"userId"`
	MatchID   string `dynamodbav:"matchId"`
	CreatedAt int64  `dynamodbav:"createdAt"`
}

// MatchRepository stores each match as one document with its teams inline,
// plus one membership row per player for lookups by user.
type MatchRepository struct {
	api         API
	table       string
	playerTable string
}

func NewMatchRepository(api API, table, playerTable string) *MatchRepository {
	return &MatchRepository{api: api, table: table, playerTable: playerTable}
}

func (r *MatchRepository) Create(ctx context.Context, m match.Match) error {
	item, err := attributevalue.MarshalMap(matchItemFromMatch(m))
	if err != nil {
		return errors.Wrap(err, "marshal match item")
	}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}}
	for _, playerID := range m.PlayerIDs() {
		row, err := attributevalue.MarshalMap(membershipItem{
			UserID:    playerID,
			MatchID:   m.ID,
			CreatedAt: toMillis(m.CreatedAt),
		})
		if err != nil {
			return errors.Wrap(err, "marshal match membership")
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(r.playerTable), Item: row},
		})
	}

	_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if isTransactConditionFailed(err) {
			return errors.Newf("match %s already exists", m.ID)
		}
		return errors.Wrapf(err, "insert match=%s", m.ID)
	}
	return nil
}

func (r *MatchRepository) GetByID(ctx context.Context, id string) (match.Match, bool, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return match.Match{}, false, errors.Wrapf(err, "get match=%s", id)
	}
	if len(out.Item) == 0 {
		return match.Match{}, false, nil
	}

	m, err := decodeMatch(out.Item)
	if err != nil {
		return match.Match{}, false, err
	}
	return m, true, nil
}

func (r *MatchRepository) FindActiveForUser(ctx context.Context, userID string) (match.Match, bool, error) {
	rows, err := queryAll(ctx, r.api, &dynamodb.QueryInput{
		TableName:                 aws.String(r.playerTable),
		KeyConditionExpression:    aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": stringValue(userID)},
		ConsistentRead:            aws.Bool(true),
	})
	if err != nil {
		return match.Match{}, false, err
	}

	var (
		found  match.Match
		exists bool
	)
	for _, raw := range rows {
		var row membershipItem
		if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
			return match.Match{}, false, errors.Wrap(err, "unmarshal match membership")
		}
		m, ok, err := r.GetByID(ctx, row.MatchID)
		if err != nil {
			return match.Match{}, false, err
		}
		if !ok || !m.Status.Active() || !m.HasPlayer(userID) {
			continue
		}
		if !exists || m.CreatedAt.After(found.CreatedAt) {
			found, exists = m, true
		}
	}
	return found, exists, nil
}

// SetPlayerReady writes only the player's own flag, guarded by the player id
// at that position, so concurrent ready calls never overwrite each other.
func (r *MatchRepository) SetPlayerReady(ctx context.Context, matchID, userID string, isReady bool, at time.Time) (match.Match, error) {
	current, exists, err := r.GetByID(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if !exists {
		return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
	}
	teamIdx, playerIdx, ok := locatePlayer(current, userID)
	if !ok {
		return match.Match{}, errors.Wrapf(match.ErrPlayerNotInMatch, "match=%s user=%s", matchID, userID)
	}

	path := "#teams[" + strconv.Itoa(teamIdx) + "].#players[" + strconv.Itoa(playerIdx) + "]"
	out, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 stringKey("id", matchID),
		UpdateExpression:    aws.String("SET " + path + ".#isReady = :ready, #updatedAt = :at"),
		ConditionExpression: aws.String(path + ".#id = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#teams":     "teams",
			"#players":   "players",
			"#isReady":   "isReady",
			"#id":        "id",
			"#updatedAt": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ready": &types.AttributeValueMemberBOOL{Value: isReady},
			":at":    millisValue(at),
			":uid":   stringValue(userID),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return match.Match{}, errors.Wrapf(match.ErrPlayerNotInMatch, "match=%s user=%s", matchID, userID)
		}
		return match.Match{}, errors.Wrapf(err, "set player ready match=%s", matchID)
	}
	return decodeMatch(out.Attributes)
}

func locatePlayer(m match.Match, userID string) (int, int, bool) {
	for ti, team := range m.Teams {
		for pi, p := range team.Players {
			if p.ID == userID {
				return ti, pi, true
			}
		}
	}
	return 0, 0, false
}

func (r *MatchRepository) Transition(ctx context.Context, matchID string, t match.Transition) (match.Match, error) {
	input := transitionInput(r.table, matchID, t)
	out, err := r.api.UpdateItem(ctx, input)
	if err != nil {
		ccf, ok := isConditionFailed(err)
		if !ok {
			return match.Match{}, errors.Wrapf(err, "transition match=%s to %s", matchID, t.To)
		}
		if len(ccf.Item) == 0 {
			return match.Match{}, errors.Wrapf(match.ErrNotFound, "match=%s", matchID)
		}
		current, decodeErr := decodeMatch(ccf.Item)
		if decodeErr != nil {
			return match.Match{}, decodeErr
		}
		return match.Match{}, errors.Wrapf(match.ErrInvalidTransition, "match=%s %s -> %s", matchID, current.Status, t.To)
	}

	updated, err := decodeMatch(out.Attributes)
	if err != nil {
		return match.Match{}, err
	}
	if !updated.Status.Active() {
		r.dropMemberships(ctx, updated)
	}
	return updated, nil
}

// dropMemberships removes the lookup rows of an ended match. Rows that
// survive a failed delete are filtered by status in FindActiveForUser.
func (r *MatchRepository) dropMemberships(ctx context.Context, m match.Match) {
	for _, playerID := range m.PlayerIDs() {
		key := stringKey("userId", playerID)
		key["matchId"] = stringValue(m.ID)
		_, _ = r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.playerTable),
			Key:       key,
		})
	}
}

// transitionInput renders the status compare-and-set. A missing item has no
// status, so the condition also guards against upserting.
func transitionInput(table, matchID string, t match.Transition) *dynamodb.UpdateItemInput {
	values := map[string]types.AttributeValue{
		":to": stringValue(string(t.To)),
		":at": millisValue(t.At),
	}
	statusIn := inValues("from", match.StatusAliases(t.From...), values)

	update := "SET #status = :to, updatedAt = :at"
	switch t.To {
	case match.StatusInProgress:
		update += ", startedAt = :at"
	case match.StatusFinished, match.StatusAbandoned, match.StatusCancelled:
		update += ", finishedAt = :at"
	}

	return &dynamodb.UpdateItemInput{
		TableName:                           aws.String(table),
		Key:                                 stringKey("id", matchID),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String("#status IN " + statusIn),
		ExpressionAttributeNames:            map[string]string{"#status": "status"},
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
}

// ListStale queries the status index once per pre-start status (legacy
// aliases included) and merges the results oldest first.
func (r *MatchRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]match.Match, error) {
	var items []map[string]types.AttributeValue
	for _, status := range match.StatusAliases(match.PreStartStatuses...) {
		input := &dynamodb.QueryInput{
			TableName:                aws.String(r.table),
			IndexName:                aws.String(StatusCreatedIndex),
			KeyConditionExpression:   aws.String("#status = :s AND createdAt < :cut"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":s":   stringValue(status),
				":cut": millisValue(createdBefore),
			},
			ScanIndexForward: aws.Bool(true),
		}
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit))
			page, err := r.api.Query(ctx, input)
			if err != nil {
				return nil, errors.Wrapf(err, "query stale matches status=%s", status)
			}
			items = append(items, page.Items...)
			continue
		}
		rows, err := queryAll(ctx, r.api, input)
		if err != nil {
			return nil, err
		}
		items = append(items, rows...)
	}

	matches, err := decodeMatches(items)
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *MatchRepository) CountByStatus(ctx context.Context) (map[match.Status]int, error) {
	items, err := scanAll(ctx, r.api, &dynamodb.ScanInput{
		TableName:                aws.String(r.table),
		ProjectionExpression:     aws.String("#status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
	})
	if err != nil {
		return nil, err
	}

	out := make(map[match.Status]int)
	for _, raw := range items {
		var row struct {
			Status string `dynamodbav:"status"`
		}
		if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
			return nil, errors.Wrap(err, "unmarshal match status")
		}
		status, err := match.ParseStatus(row.Status)
		if err != nil {
			continue
		}
		out[status]++
	}
	return out, nil
}
