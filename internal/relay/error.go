package relay

import (
	"errors"
	"fmt"
)

var (
	ErrNotObject         = errors.New("payload is not an object")
	ErrEnvelopeNotString = errors.New("envelope message is not a string")
)

// ParseError is returned when a record body, or the message nested in an envelope, is not valid JSON.
type ParseError struct {
	Body     string
	Envelope bool // The failure happened while decoding the envelope's message
	Err      error
}

func (e *ParseError) Error() string {
	if e.Envelope {
		return fmt.Sprintf("failed to parse envelope message: %v", e.Err)
	}
	return fmt.Sprintf("failed to parse record body: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StoreError is returned when the store rejected a write.
type StoreError struct {
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to put item into %s: %v", e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RecordError ties a processing failure to the record in the batch that caused it.
type RecordError struct {
	Index     int
	MessageID string
	Err       error
}

func (e *RecordError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.MessageID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Returns the kind of the failure for metrics and logs.
func errorKind(err error) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return "store"
	}
	return "unknown"
}
