package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig describes the exchange and queue of a RabbitMQ bus.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
	// Topics are the routing keys bound to Queue. Empty binds "#".
	Topics []string
	// Prefetch caps unacknowledged deliveries per consumer.
	Prefetch int
	// DialAttempts and DialBackoff control connection retries.
	DialAttempts int
	DialBackoff  time.Duration
}

// AMQP publishes to a durable topic exchange and consumes from a durable
// queue with manual acknowledgements.
type AMQP struct {
	cfg    AMQPConfig
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// DialAMQP connects, declares the exchange and queue and binds the topics.
func DialAMQP(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 5
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = time.Second
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}

	var conn *amqp.Connection
	var err error
	backoff := cfg.DialBackoff
	for attempt := 1; ; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		if attempt >= cfg.DialAttempts {
			return nil, fmt.Errorf("bus: connect to rabbitmq: %w", err)
		}
		logger.Warn("rabbitmq dial failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	b := &AMQP{cfg: cfg, conn: conn, ch: ch, logger: logger}
	if err := b.declare(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *AMQP) declare() error {
	if err := b.ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare exchange %q: %w", b.cfg.Exchange, err)
	}
	if b.cfg.Queue == "" {
		return nil
	}
	if _, err := b.ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %q: %w", b.cfg.Queue, err)
	}
	topics := b.cfg.Topics
	if len(topics) == 0 {
		topics = []string{"#"}
	}
	for _, topic := range topics {
		if err := b.ch.QueueBind(b.cfg.Queue, topic, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bus: bind %q to %q: %w", topic, b.cfg.Queue, err)
		}
	}
	return b.ch.Qos(b.cfg.Prefetch, 0, false)
}

func (b *AMQP) Publish(ctx context.Context, topic string, body []byte) error {
	err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %q: %w", topic, err)
	}
	return nil
}

// Consume acknowledges handled and dropped messages and requeues the rest.
func (b *AMQP) Consume(ctx context.Context, h Handler) error {
	if b.cfg.Queue == "" {
		return fmt.Errorf("bus: no queue configured")
	}
	deliveries, err := b.ch.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume %q: %w", b.cfg.Queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			b.handle(ctx, h, d)
		}
	}
}

func (b *AMQP) handle(ctx context.Context, h Handler, d amqp.Delivery) {
	err := h(ctx, Message{Topic: d.RoutingKey, Body: d.Body})
	switch {
	case err == nil:
		if aerr := d.Ack(false); aerr != nil {
			b.logger.Error("ack failed", "topic", d.RoutingKey, "error", aerr)
		}
	case IsDrop(err):
		b.logger.Warn("dropping message", "topic", d.RoutingKey, "error", err)
		if aerr := d.Ack(false); aerr != nil {
			b.logger.Error("ack failed", "topic", d.RoutingKey, "error", aerr)
		}
	default:
		b.logger.Error("message handler failed, requeueing", "topic", d.RoutingKey, "error", err)
		if nerr := d.Nack(false, true); nerr != nil {
			b.logger.Error("nack failed", "topic", d.RoutingKey, "error", nerr)
		}
	}
}

// Close closes the channel and the connection.
func (b *AMQP) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
