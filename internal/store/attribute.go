package store

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/metdatasystem/orders-relay/internal/relay"
)

// Converts a payload into a DynamoDB item.
func marshalItem(item relay.Payload) (map[string]types.AttributeValue, error) {
	return marshalMap(item)
}

func marshalMap(m map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		av, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute %s: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

// json.Number is a string type, attributevalue would store it as S. Numbers, maps and lists
// are walked here so that nested numbers keep their N type; everything else is left to attributevalue.
func marshalValue(v any) (types.AttributeValue, error) {
	switch v := v.(type) {
	case json.Number:
		return &types.AttributeValueMemberN{Value: v.String()}, nil
	case relay.Payload:
		return marshalValue(map[string]any(v))
	case map[string]any:
		m, err := marshalMap(v)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, 0, len(v))
		for i, e := range v {
			av, err := marshalValue(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			l = append(l, av)
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return attributevalue.Marshal(v)
}
