package statestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the store uses.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Attribute names of the table.
const (
	attrKey     = "key"
	attrVersion = "version"
	attrData    = "data"
)

// DynamoDB keeps documents in a DynamoDB table, one item per key.
type DynamoDB struct {
	client DDBClient
	table  string
}

// NewDynamoDB wraps an existing client.
func NewDynamoDB(client DDBClient, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

// OpenDynamoDB creates a store using the default AWS credential chain.
func OpenDynamoDB(ctx context.Context, table string, optFns ...func(*config.LoadOptions) error) (*DynamoDB, error) {
	if table == "" {
		return nil, errors.New("statestore: table is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("statestore: load AWS config: %w", err)
	}
	return NewDynamoDB(dynamodb.NewFromConfig(cfg), table), nil
}

// Get implements Store.
func (s *DynamoDB) Get(ctx context.Context, key string) ([]byte, int64, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("statestore: get %s: %w", key, err)
	}
	if len(resp.Item) == 0 {
		return nil, 0, fmt.Errorf("statestore: %s: %w", key, ErrNotFound)
	}

	versionAttr, ok := resp.Item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return nil, 0, fmt.Errorf("statestore: %s: invalid version attribute", key)
	}
	version, err := strconv.ParseInt(versionAttr.Value, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("statestore: %s: parse version: %w", key, err)
	}
	dataAttr, ok := resp.Item[attrData].(*types.AttributeValueMemberB)
	if !ok {
		return nil, 0, fmt.Errorf("statestore: %s: invalid data attribute", key)
	}
	return dataAttr.Value, version, nil
}

// Put implements Store.
func (s *DynamoDB) Put(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	next := expected + 1
	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrKey:     &types.AttributeValueMemberS{Value: key},
			attrVersion: &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			attrData:    &types.AttributeValueMemberB{Value: data},
		},
		ExpressionAttributeNames: map[string]string{"#v": attrVersion},
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(#v)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, fmt.Errorf("%w: %s, expected version %d", ErrConcurrentModification, key, expected)
		}
		return 0, fmt.Errorf("statestore: put %s: %w", key, err)
	}
	return next, nil
}
