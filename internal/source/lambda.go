package source

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/rs/zerolog"
)

// Lambda handles SQS events delivered by an AWS Lambda event source mapping.
type Lambda struct {
	processor Processor
	mode      relay.FailureMode
	log       zerolog.Logger
}

func NewLambda(processor Processor, mode relay.FailureMode, log zerolog.Logger) *Lambda {
	return &Lambda{
		processor: processor,
		mode:      mode,
		log:       log.With().Str("source", "lambda").Logger(),
	}
}

// Start hands control to the Lambda runtime. It does not return.
func (l *Lambda) Start() {
	lambda.Start(l.Handle)
}

// Handle processes one event. In batch mode a failure is returned so the whole event is redelivered.
// In record mode the failed messages are reported as batch item failures, which requires
// ReportBatchItemFailures on the event source mapping.
func (l *Lambda) Handle(ctx context.Context, event events.SQSEvent) (any, error) {
	batch := batchFromSQSEvent(event)
	l.log.Debug().Int("records", len(batch.Records)).Msg("received event")

	if l.mode != relay.FailRecord {
		result, err := l.processor.Process(ctx, batch)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	report := l.processor.ProcessEach(ctx, batch)
	if !report.Failed() {
		return report.Result(), nil
	}

	response := events.SQSEventResponse{}
	for _, id := range report.FailedIDs() {
		response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
			ItemIdentifier: id,
		})
	}
	l.log.Warn().Int("failed", len(response.BatchItemFailures)).Msg("reporting batch item failures")

	return response, nil
}

func batchFromSQSEvent(event events.SQSEvent) relay.Batch {
	batch := relay.Batch{Records: make([]relay.Record, 0, len(event.Records))}
	for _, message := range event.Records {
		batch.Records = append(batch.Records, relay.Record{
			MessageID: message.MessageId,
			Body:      message.Body,
		})
	}
	return batch
}
