package logqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"intel_fetcher/internal/domain"
)

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// AMQPTransport publishes event batches to a durable RabbitMQ queue.
type AMQPTransport struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewAMQPTransport(cfg AMQPConfig, logger *slog.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &AMQPTransport{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// BatchMessage is the wire shape of one published batch.
type BatchMessage struct {
	Events    []domain.Event `json:"events"`
	Timestamp time.Time      `json:"timestamp"`
}

func (t *AMQPTransport) PublishBatch(ctx context.Context, events []domain.Event) error {
	body, err := json.Marshal(BatchMessage{
		Events:    events,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	err = t.channel.PublishWithContext(
		ctx,
		t.exchange,
		t.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}

	t.logger.Debug("published event batch", "events", len(events))

	return nil
}

func (t *AMQPTransport) Close() error {
	if t.channel != nil {
		t.channel.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
