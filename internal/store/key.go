package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/metdatasystem/orders-relay/internal/relay"
)

const DefaultKeyAttribute = "orderId"

const keySeparator = "#"

var ErrMissingKey = errors.New("item is missing a key attribute")

// Builds the record key from the identity attributes of the item.
// Composite keys are joined with '#'.
func itemKey(item relay.Payload, attributes []string) (string, error) {
	if len(attributes) == 0 {
		attributes = []string{DefaultKeyAttribute}
	}

	parts := make([]string, 0, len(attributes))
	for _, attribute := range attributes {
		value, ok := item[attribute]
		if !ok || value == nil {
			return "", fmt.Errorf("%w: %s", ErrMissingKey, attribute)
		}
		switch value.(type) {
		case map[string]any, []any:
			return "", fmt.Errorf("key attribute %s must be a scalar", attribute)
		}
		parts = append(parts, fmt.Sprint(value))
	}

	return strings.Join(parts, keySeparator), nil
}
