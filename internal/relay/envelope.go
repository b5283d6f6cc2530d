package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errTrailingData = errors.New("unexpected data after top-level value")

// The field that marks a body as a notification envelope.
const EnvelopeField = "Message"

// Payload is the application record that gets stored.
type Payload map[string]any

// Resolves the payload of a record body, unwrapping the envelope if there is one.
func ResolvePayload(body string) (Payload, error) {
	outer, err := decodeObject(body)
	if err != nil {
		return nil, &ParseError{Body: body, Err: err}
	}

	message, ok := outer[EnvelopeField]
	if !ok {
		return outer, nil
	}

	text, ok := message.(string)
	if !ok {
		return nil, &ParseError{Body: body, Envelope: true, Err: ErrEnvelopeNotString}
	}

	payload, err := decodeObject(text)
	if err != nil {
		return nil, &ParseError{Body: body, Envelope: true, Err: err}
	}

	return payload, nil
}

// Decodes a single JSON object keeping numbers as json.Number so that nothing is lost
// between the queue and the store.
func decodeObject(text string) (Payload, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, errTrailingData
	}

	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, value)
	}

	return Payload(object), nil
}
