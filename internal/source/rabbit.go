package source

import (
	"context"
	"errors"
	"time"

	"github.com/metdatasystem/orders-relay/internal/relay"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

const rabbitRequeueDelay = time.Second

func NewRabbitChannel(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// Rabbit relays each delivery as a batch of one, acking it once stored and requeueing it after a
// delay otherwise.
type Rabbit struct {
	channel      *amqp.Channel
	queue        string
	processor    Processor
	log          zerolog.Logger
	requeueDelay time.Duration
}

func NewRabbit(channel *amqp.Channel, queue string, processor Processor, log zerolog.Logger) *Rabbit {
	return &Rabbit{
		channel:      channel,
		queue:        queue,
		processor:    processor,
		log:          log.With().Str("source", "rabbit").Str("queue", queue).Logger(),
		requeueDelay: rabbitRequeueDelay,
	}
}

func (r *Rabbit) Run(ctx context.Context) error {
	messages, err := r.channel.Consume(
		r.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}
	r.log.Info().Msg("consuming messages")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("consumer stopped")
			return nil
		case message, ok := <-messages:
			if !ok {
				return ErrDeliveriesClosed
			}
			r.handle(ctx, message)
		}
	}
}

func (r *Rabbit) handle(ctx context.Context, message amqp.Delivery) {
	batch := relay.Batch{Records: []relay.Record{{
		MessageID: message.MessageId,
		Body:      string(message.Body),
	}}}

	if _, err := r.processor.Process(ctx, batch); err != nil {
		r.log.Debug().Err(err).Uint64("tag", message.DeliveryTag).Bool("redelivered", message.Redelivered).
			Msg("requeueing message")
		// The delivery stays unacked for requeueDelay before it goes back on the queue.
		select {
		case <-ctx.Done():
		case <-time.After(r.requeueDelay):
		}
		if err := message.Nack(false, true); err != nil {
			r.log.Error().Err(err).Msg("failed to nack message")
		}
		return
	}

	if err := message.Ack(false); err != nil {
		r.log.Error().Err(err).Msg("failed to ack message")
	}
}
