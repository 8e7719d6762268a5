package dynamorepo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// API is the subset of the DynamoDB client used by the repositories.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type ClientConfig struct {
	Region   string
	Endpoint string
}

// NewClient loads the default AWS credential chain. A non-empty Endpoint
// points the client at a local DynamoDB.
func NewClient(ctx context.Context, cfg ClientConfig) (*dynamodb.Client, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0, 1)
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func isConditionFailed(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

// isTransactConditionFailed reports whether the transaction was cancelled by
// a failed condition on its first operation.
func isTransactConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || len(tce.CancellationReasons) == 0 {
		return false
	}
	return aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}

// queryAll drains every page of a query.
func queryAll(ctx context.Context, api API, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	paginator := dynamodb.NewQueryPaginator(api, input)
	items := make([]map[string]types.AttributeValue, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "query table %s", aws.ToString(input.TableName))
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// scanAll drains every page of a scan.
func scanAll(ctx context.Context, api API, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	paginator := dynamodb.NewScanPaginator(api, input)
	items := make([]map[string]types.AttributeValue, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "scan table %s", aws.ToString(input.TableName))
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func stringValue(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}

func millisValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(toMillis(t), 10)}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMillis(*t)
	return &v
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	v := fromMillis(*ms)
	return &v
}

// inValues renders "(:prefix0, :prefix1, ...)" and registers each value.
func inValues(prefix string, values []string, out map[string]types.AttributeValue) string {
	placeholders := make([]string, 0, len(values))
	for i, value := range values {
		key := ":" + prefix + strconv.Itoa(i)
		out[key] = stringValue(value)
		placeholders = append(placeholders, key)
	}
	return "(" + strings.Join(placeholders, ", ") + ")"
}
