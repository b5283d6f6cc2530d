package app

import (
	"context"
	"fmt"

	"github.com/metdatasystem/orders-relay/internal/source"
	"github.com/metdatasystem/orders-relay/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Lambda runs the relay inside the AWS Lambda runtime.
func Lambda(logLevel zerolog.Level) error {
	rt, err := setup(context.Background(), logLevel, false)
	if err != nil {
		return err
	}
	defer rt.close()

	source.NewLambda(rt.processor, rt.cfg.FailureMode, log.Logger).Start()
	return nil
}

// SQS long-polls the configured queue until interrupted.
func SQS(logLevel zerolog.Level) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, logLevel, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cfg.Require("SQS_QUEUE_URL"); err != nil {
		return err
	}

	client, err := source.NewSQSClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialise sqs client: %w", err)
	}

	rt.serveMetrics(ctx)

	return source.NewSQS(client, rt.cfg.SQSQueueURL, rt.processor, rt.cfg.FailureMode, log.Logger).Run(ctx)
}

// Kafka consumes the configured topic until interrupted.
func Kafka(logLevel zerolog.Level) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, logLevel, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cfg.Require("KAFKA_BROKERS"); err != nil {
		return err
	}

	client, err := source.NewKafkaClient(rt.cfg.KafkaBrokers, rt.cfg.KafkaTopic, rt.cfg.KafkaGroup)
	if err != nil {
		return fmt.Errorf("failed to initialise kafka client: %w", err)
	}
	defer client.Close()

	rt.serveMetrics(ctx)

	return source.NewKafka(client, rt.processor, rt.cfg.FailureMode, log.Logger).Run(ctx)
}

// Rabbit consumes the configured queue until interrupted.
func Rabbit(logLevel zerolog.Level) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, logLevel, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.cfg.Require("RABBIT_URL"); err != nil {
		return err
	}

	conn, channel, err := source.NewRabbitChannel(rt.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("failed to initialise rabbit channel: %w", err)
	}
	rt.closers = append(rt.closers, conn.Close, channel.Close)

	if _, err := source.DeclareQueue(channel, rt.cfg.RabbitQueue); err != nil {
		return fmt.Errorf("failed to declare %s: %w", rt.cfg.RabbitQueue, err)
	}

	rt.serveMetrics(ctx)

	return source.NewRabbit(channel, rt.cfg.RabbitQueue, rt.processor, log.Logger).Run(ctx)
}

// Local relays batch files from path. With dryRun the payloads are kept in memory
// instead of being written to the configured store.
func Local(path string, dryRun bool, logLevel zerolog.Level) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := setup(ctx, logLevel, dryRun)
	if err != nil {
		return err
	}
	defer rt.close()

	err = source.NewLocal(rt.processor, rt.cfg.FailureMode, log.Logger).Run(ctx, path)

	if memory, ok := rt.store.(*store.Memory); ok {
		for key, item := range memory.Items(rt.cfg.Table) {
			log.Info().Str("key", key).Interface("item", item).Msg("dry run item")
		}
	}

	return err
}

// Get prints the item stored in DynamoDB under the given key attributes (name=value).
func Get(pairs []string, logLevel zerolog.Level) error {
	ctx := context.Background()

	rt, err := setup(ctx, logLevel, false)
	if err != nil {
		return err
	}
	defer rt.close()

	dynamo, ok := rt.store.(*store.DynamoDB)
	if !ok {
		return fmt.Errorf("get is only supported for the dynamodb store")
	}

	key, err := store.ParseKey(pairs)
	if err != nil {
		return err
	}

	item, err := dynamo.Get(ctx, rt.cfg.Table, key)
	if err != nil {
		return fmt.Errorf("failed to get item: %w", err)
	}
	if item == nil {
		log.Warn().Interface("key", key).Msg("item not found")
		return nil
	}
	log.Info().Interface("item", item).Msg("found item")

	return nil
}
