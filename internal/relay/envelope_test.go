package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePayloadPlain(t *testing.T) {
	payload, err := ResolvePayload(`{"orderId":"A2","qty":1,"tags":["x"],"address":{"zip":"10001"}}`)
	require.NoError(t, err)

	assert.Equal(t, Payload{
		"orderId": "A2",
		"qty":     json.Number("1"),
		"tags":    []any{"x"},
		"address": map[string]any{"zip": "10001"},
	}, payload)
}

func TestResolvePayloadEnvelope(t *testing.T) {
	body := `{"Type":"Notification","MessageId":"abc","Message":"{\"orderId\":\"A1\",\"qty\":2}"}`

	payload, err := ResolvePayload(body)
	require.NoError(t, err)

	// Only the inner message is kept
	assert.Equal(t, Payload{"orderId": "A1", "qty": json.Number("2")}, payload)
}

func TestResolvePayloadKeepsNumbers(t *testing.T) {
	payload, err := ResolvePayload(`{"orderId":"N1","total":12345678901234567890,"price":19.99}`)
	require.NoError(t, err)

	assert.Equal(t, json.Number("12345678901234567890"), payload["total"])
	assert.Equal(t, json.Number("19.99"), payload["price"])
}

func TestResolvePayloadErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		envelope bool
		is       error
	}{
		{name: "not json", body: `not-json`},
		{name: "empty", body: ``},
		{name: "trailing data", body: `{"orderId":"A"} {}`},
		{name: "array", body: `[{"orderId":"A"}]`, is: ErrNotObject},
		{name: "null", body: `null`, is: ErrNotObject},
		{name: "bad message", body: `{"Message":"not-json"}`, envelope: true},
		{name: "message not string", body: `{"Message":{"orderId":"A"}}`, envelope: true, is: ErrEnvelopeNotString},
		{name: "message scalar", body: `{"Message":"42"}`, envelope: true, is: ErrNotObject},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			payload, err := ResolvePayload(test.body)
			assert.Nil(t, payload)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, test.body, parseErr.Body)
			assert.Equal(t, test.envelope, parseErr.Envelope)
			if test.is != nil {
				assert.ErrorIs(t, err, test.is)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "parse", errorKind(&RecordError{Err: &ParseError{Err: errors.New("x")}}))
	assert.Equal(t, "store", errorKind(&StoreError{Err: errors.New("x")}))
	assert.Equal(t, "unknown", errorKind(errors.New("x")))
}

func TestRecordErrorMessage(t *testing.T) {
	err := &RecordError{Index: 2, MessageID: "m-3", Err: &StoreError{Table: "Orders", Err: errors.New("throttled")}}
	assert.Equal(t, "record 2 (m-3): failed to put item into Orders: throttled", err.Error())

	err = &RecordError{Index: 0, Err: &ParseError{Envelope: true, Err: errors.New("bad")}}
	assert.Equal(t, "record 0: failed to parse envelope message: bad", err.Error())
}
