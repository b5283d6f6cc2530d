package source

import (
	"context"
	"fmt"
	"time"

	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

const kafkaRewindDelay = time.Second

// The subset of the franz-go client used by the consumer.
type KafkaAPI interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
}

func NewKafkaClient(brokers []string, topic string, group string) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// Kafka treats the records of each poll as one batch. A partition is only committed up to its
// first record that needs redelivery and is then rewound to that record.
type Kafka struct {
	client      KafkaAPI
	processor   Processor
	mode        relay.FailureMode
	log         zerolog.Logger
	rewindDelay time.Duration
}

func NewKafka(client KafkaAPI, processor Processor, mode relay.FailureMode, log zerolog.Logger) *Kafka {
	return &Kafka{
		client:      client,
		processor:   processor,
		mode:        mode,
		log:         log.With().Str("source", "kafka").Logger(),
		rewindDelay: kafkaRewindDelay,
	}
}

func (k *Kafka) Run(ctx context.Context) error {
	k.log.Info().Msg("consuming messages")

	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			k.log.Info().Msg("consumer closed")
			return nil
		}
		fetches.EachError(func(t string, p int32, err error) {
			k.log.Err(err).Str("topic", t).Int32("partition", p).Msg("error fetching")
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		r := dispatch(ctx, k.processor, k.mode, batchFromKafka(records))
		commit, rewind := splitRedelivery(records, r)

		if len(commit) > 0 {
			if err := k.client.CommitRecords(ctx, commit...); err != nil {
				k.log.Err(err).Msg("failed to commit offsets")
			} else {
				k.log.Debug().Int("committed", len(commit)).Msg("committed records")
			}
		}

		if len(rewind) == 0 {
			continue
		}

		k.log.Error().Err(r.err).Int("records", len(records)).Int("committed", len(commit)).
			Msg("rewinding partitions for redelivery")
		k.client.SetOffsets(rewind)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(k.rewindDelay):
		}
	}
}

func batchFromKafka(records []*kgo.Record) relay.Batch {
	batch := relay.Batch{Records: make([]relay.Record, 0, len(records))}
	for _, record := range records {
		batch.Records = append(batch.Records, relay.Record{
			MessageID: fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset),
			Body:      string(record.Value),
		})
	}
	return batch
}

// Splits the records of a processed batch into those that can be committed and the offsets every
// partition has to be rewound to. A partition is rewound to its first record that needs
// redelivery, so only the records before it are committed.
func splitRedelivery(records []*kgo.Record, r redelivery) ([]*kgo.Record, map[string]map[int32]kgo.EpochOffset) {
	var failed []*kgo.Record
	for i, record := range records {
		if r.has(i) {
			failed = append(failed, record)
		}
	}
	rewind := earliestOffsets(failed)

	commit := make([]*kgo.Record, 0, len(records))
	for _, record := range records {
		if first, ok := rewind[record.Topic][record.Partition]; ok && record.Offset >= first.Offset {
			continue
		}
		commit = append(commit, record)
	}

	return commit, rewind
}

// Returns the first offset of every topic partition in the records.
func earliestOffsets(records []*kgo.Record) map[string]map[int32]kgo.EpochOffset {
	offsets := map[string]map[int32]kgo.EpochOffset{}
	for _, record := range records {
		partitions, ok := offsets[record.Topic]
		if !ok {
			partitions = map[int32]kgo.EpochOffset{}
			offsets[record.Topic] = partitions
		}
		current, ok := partitions[record.Partition]
		if !ok || record.Offset < current.Offset {
			partitions[record.Partition] = kgo.EpochOffset{
				Epoch:  record.LeaderEpoch,
				Offset: record.Offset,
			}
		}
	}
	return offsets
}
