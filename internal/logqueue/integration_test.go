//go:build integration

package logqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"intel_fetcher/internal/config"
	"intel_fetcher/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestTransport_Connection() {
	cfg := AMQPConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	transport, err := NewAMQPTransport(cfg, s.logger)
	s.NoError(err)
	s.NotNil(transport)

	err = transport.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestTransport_PublishBatch() {
	cfg := AMQPConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-batch",
		RoutingKey: "test-routing-key-batch",
		QueueName:  "test-queue-batch",
	}

	transport, err := NewAMQPTransport(cfg, s.logger)
	s.Require().NoError(err)
	defer transport.Close()

	events := []domain.Event{
		{
			Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			Level:     "info",
			SourceID:  "nvd",
			Message:   "page ingested",
			Fields:    map[string]any{"offset": float64(200)},
		},
		{
			Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			Level:     "warn",
			SourceID:  "nvd",
			Message:   "record upsert failed",
		},
	}

	err = transport.PublishBatch(s.ctx, events)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received BatchMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Require().Len(received.Events, 2)
	s.Equal("info", received.Events[0].Level)
	s.Equal("page ingested", received.Events[0].Message)
	s.Equal("nvd", received.Events[0].SourceID)
	s.Equal(float64(200), received.Events[0].Fields["offset"])
	s.Equal("warn", received.Events[1].Level)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestQueue_EndToEnd() {
	cfg := AMQPConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-e2e",
		RoutingKey: "test-routing-key-e2e",
		QueueName:  "test-queue-e2e",
	}

	transport, err := NewAMQPTransport(cfg, s.logger)
	s.Require().NoError(err)
	defer transport.Close()

	q := New(transport, config.LogQueueConfig{
		BatchSize:     2,
		BufferSize:    10,
		FlushInterval: 100 * time.Millisecond,
		MaxPublishes:  40,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
		},
	}, s.logger)

	ctx, cancel := context.WithCancel(s.ctx)
	go q.Start(ctx)

	q.Submit(domain.Event{Timestamp: time.Now().UTC(), Level: "info", SourceID: "misp", Message: "cycle completed"})
	q.Submit(domain.Event{Timestamp: time.Now().UTC(), Level: "info", SourceID: "misp", Message: "cycle completed"})

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received BatchMessage
	s.NoError(json.Unmarshal(msg.Body, &received))
	s.Len(received.Events, 2)

	cancel()
	<-q.Done()
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg AMQPConfig) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
