package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectRabbitMQ dials uri and opens a channel.
func ConnectRabbitMQ(uri string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return conn, ch, nil
}

// DeclareExchange declares a durable topic exchange.
func DeclareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// URL assembles an AMQP URL from its parts.
func URL(user, pass, host, port string) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)
}
