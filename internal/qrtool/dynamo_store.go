package qrtool

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	statKeyAttr   = "stat_key"
	countAttr     = "count"
	expiresAtAttr = "expires_at"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore keeps counters as items of the stats table, one item per key.
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore builds a client from the default credential chain.
func NewDynamoStore(ctx context.Context, table string, region string) (*DynamoStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

func newDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func (s *DynamoStore) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		statKeyAttr: &types.AttributeValueMemberS{Value: k},
	}
}

func (s *DynamoStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.key(key),
		UpdateExpression: aws.String("ADD #count :one"),
		ExpressionAttributeNames: map[string]string{
			"#count": countAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	if ttl > 0 {
		input.UpdateExpression = aws.String("ADD #count :one SET #exp = :exp")
		input.ExpressionAttributeNames["#exp"] = expiresAtAttr
		input.ExpressionAttributeValues[":exp"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10),
		}
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return countOf(out.Attributes)
}

func (s *DynamoStore) Get(ctx context.Context, key string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(key),
	})
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return countOf(out.Item)
}

func countOf(item map[string]types.AttributeValue) (int64, error) {
	v, ok := item[countAttr]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is %T, not a number", countAttr, v)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
