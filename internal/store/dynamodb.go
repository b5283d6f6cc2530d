package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/metdatasystem/orders-relay/internal/relay"
)

// The subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type DynamoDB struct {
	client DynamoDBAPI
}

func NewDynamoDB(client DynamoDBAPI) *DynamoDB {
	return &DynamoDB{client: client}
}

// Creates a DynamoDB client from the default AWS configuration chain.
// An empty endpoint uses the regional AWS endpoint.
func NewDynamoDBClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Put writes the whole item, replacing any item with the same primary key.
func (d *DynamoDB) Put(ctx context.Context, table string, item relay.Payload) error {
	av, err := marshalItem(item)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	return err
}

// Parses name=value key pairs. A value that is a JSON number becomes an N key and a quoted
// JSON string or any other text becomes an S key, so orderId=7 and orderId="7" differ.
func ParseKey(pairs []string) (map[string]any, error) {
	key := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid key %q, expected name=value", pair)
		}
		key[name] = keyValue(value)
	}
	return key, nil
}

func keyValue(text string) any {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return text
	}
	if _, err := decoder.Token(); err != io.EOF {
		return text
	}
	switch value := value.(type) {
	case json.Number, string:
		return value
	}
	return text
}

// Get reads the item with the given key attributes. A missing item returns nil without error.
func (d *DynamoDB) Get(ctx context.Context, table string, key map[string]any) (map[string]any, error) {
	k, err := marshalMap(key)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	item := map[string]any{}
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}
