package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Subscribe declares a durable queue bound to exchange for each routing key
// and starts consuming it with manual acks.
func Subscribe(ch *amqp.Channel, exchange, queueName string, routingKeys ...string) (<-chan amqp.Delivery, error) {
	if err := DeclareExchange(ch, exchange); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

// Handle decodes each delivery into T and passes it to fn until msgs closes
// or ctx is cancelled. Undecodable messages are dropped; messages whose
// handler fails are requeued once.
func Handle[T any](ctx context.Context, msgs <-chan amqp.Delivery, fn func(context.Context, T) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			handleDelivery(ctx, d, fn)
		}
	}
}

// acknowledger is the part of amqp.Delivery that settling needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery[T any](ctx context.Context, d amqp.Delivery, fn func(context.Context, T) error) {
	settle(ctx, &d, d.Body, d.Redelivered, d.RoutingKey, fn)
}

func settle[T any](ctx context.Context, ack acknowledger, body []byte, redelivered bool, key string, fn func(context.Context, T) error) {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Warn().Err(err).Str("routing_key", key).Msg("dropping undecodable message")
		_ = ack.Nack(false, false)
		return
	}

	if err := fn(ctx, msg); err != nil {
		log.Error().Err(err).Str("routing_key", key).Bool("redelivered", redelivered).Msg("message handler failed")
		_ = ack.Nack(false, !redelivered)
		return
	}

	_ = ack.Ack(false)
}
