package email

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the part of an AMQP channel the outbox uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSender publishes messages as persistent JSON to a durable queue.
// A separate worker consumes the queue and performs delivery.
type AMQPSender struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch publisher
}

// DialAMQP connects to the broker and declares the outbox queue.
func DialAMQP(url, queue string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return &AMQPSender{conn: conn, queue: queue, ch: ch}, nil
}

// Send enqueues msg. The channel is not safe for concurrent publishing,
// so sends are serialised.
func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling email: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing email to %s: %w", s.queue, err)
	}
	return nil
}

// Close closes the broker connection and its channel.
func (s *AMQPSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
