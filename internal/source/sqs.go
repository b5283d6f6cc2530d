package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/rs/zerolog"
)

const (
	sqsMaxMessages = 10
	sqsWaitSeconds = 20
)

// The subset of the SQS client used by the poller.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

func NewSQSClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// SQS long-polls a queue and deletes the messages that were relayed. Messages that are not
// deleted become visible again once their visibility timeout expires.
type SQS struct {
	client    SQSAPI
	queueURL  string
	processor Processor
	mode      relay.FailureMode
	log       zerolog.Logger
	backOff   func() backoff.BackOff
}

func NewSQS(client SQSAPI, queueURL string, processor Processor, mode relay.FailureMode, log zerolog.Logger) *SQS {
	return &SQS{
		client:    client,
		queueURL:  queueURL,
		processor: processor,
		mode:      mode,
		log:       log.With().Str("source", "sqs").Str("queue", queueURL).Logger(),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run polls until the context is cancelled. Receive failures are retried with backoff.
func (s *SQS) Run(ctx context.Context) error {
	s.log.Info().Msg("consuming messages")

	b := backoff.WithContext(s.backOff(), ctx)
	for {
		err := backoff.RetryNotify(func() error {
			_, err := s.Poll(ctx)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}, b, func(err error, d time.Duration) {
			s.log.Warn().Err(err).Dur("retry_in", d).Msg("failed to poll queue")
		})
		if ctx.Err() != nil {
			s.log.Info().Msg("consumer stopped")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Poll receives one batch, relays it and deletes what does not need redelivery.
// Processing failures are logged, only queue errors are returned.
func (s *SQS) Poll(ctx context.Context) (int, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: sqsMaxMessages,
		WaitTimeSeconds:     sqsWaitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	batch := relay.Batch{Records: make([]relay.Record, 0, len(out.Messages))}
	for _, message := range out.Messages {
		batch.Records = append(batch.Records, relay.Record{
			MessageID: aws.ToString(message.MessageId),
			Body:      aws.ToString(message.Body),
		})
	}

	r := dispatch(ctx, s.processor, s.mode, batch)
	if r.err != nil {
		s.log.Error().Err(r.err).Msg("batch left for redelivery")
	}

	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(out.Messages))
	for i, message := range out.Messages {
		if r.has(i) {
			continue
		}
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: message.ReceiptHandle,
		})
	}
	if len(entries) == 0 {
		return len(out.Messages), nil
	}

	deleted, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(s.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return len(out.Messages), fmt.Errorf("failed to delete messages: %w", err)
	}
	for _, failed := range deleted.Failed {
		s.log.Warn().Str("id", aws.ToString(failed.Id)).Str("code", aws.ToString(failed.Code)).
			Str("reason", aws.ToString(failed.Message)).Msg("failed to delete message")
	}

	return len(out.Messages), nil
}
