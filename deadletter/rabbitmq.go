package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// publisher is the part of *amqp.Channel the sink uses
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitSink publishes failures as persistent JSON messages to a durable queue
type RabbitSink struct {
	conn    *amqp.Connection
	channel publisher
	closer  func() error
	queue   string
	logger  *zap.Logger
}

// DialRabbit connects to url and declares the durable queue
func DialRabbit(url, queue string, logger *zap.Logger) (*RabbitSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.Info("deadletter queue ready", zap.String("queue", queue))
	return &RabbitSink{
		conn:    conn,
		channel: channel,
		closer:  channel.Close,
		queue:   queue,
		logger:  logger.Named("deadletter.rabbitmq"),
	}, nil
}

// Escalate implements Sink
func (s *RabbitSink) Escalate(ctx context.Context, f Failure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode failure: %w", err)
	}

	err = s.channel.PublishWithContext(
		ctx,
		"",      // default exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    f.ID,
			Type:         string(f.Kind),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    f.Time,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish failure %s: %w", f.ID, err)
	}

	s.logger.Debug("failure published",
		zap.String("failure_id", f.ID),
		zap.String("kind", string(f.Kind)))
	return nil
}

// Close closes the channel and connection
func (s *RabbitSink) Close() error {
	if s.closer != nil {
		if err := s.closer(); err != nil {
			s.logger.Warn("failed to close channel", zap.Error(err))
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
