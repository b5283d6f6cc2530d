package relay

import "net/http"

const SuccessMessage = "Order processed successfully"

// A batch of queue records delivered in one invocation.
type Batch struct {
	Records []Record `json:"Records"`
}

// A single queue entry. Only the body is required, the message ID is used for logging
// and for reporting failures back to the delivery mechanism.
type Record struct {
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body"`
}

// The outcome of a successfully processed batch.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func success() *Result {
	return &Result{
		StatusCode: http.StatusOK,
		Body:       SuccessMessage,
	}
}

// Report collects per-record failures when records are processed independently.
type Report struct {
	Total    int
	Stored   int
	Failures []*RecordError
}

// Returns the success result when no record failed, otherwise nil.
func (r Report) Result() *Result {
	if len(r.Failures) > 0 {
		return nil
	}
	return success()
}

// Returns true if any record failed.
func (r Report) Failed() bool {
	return len(r.Failures) > 0
}

// Returns the message IDs of the failed records, in delivery order.
func (r Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, failure := range r.Failures {
		ids = append(ids, failure.MessageID)
	}
	return ids
}
