package printqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/tableorder/pkg/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker publishes tickets to a durable fanout exchange with publisher
// confirms.
type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex
}

func DialBroker(cfg *config.AMQPConfig) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Broker{conn: conn, ch: ch, exchange: cfg.Exchange, acks: acks}, nil
}

func (b *Broker) Ping() error {
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Publish sends body to the exchange and waits for the broker's confirm.
// Calls are serialised so confirms match their publishes.
func (b *Broker) Publish(ctx context.Context, body []byte, headers amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish ticket: %w", err)
	}

	select {
	case conf := <-b.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("ticket publish nacked by broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) Close() {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
