package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/climasense/station-alert-worker/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// AlertFiredEvent is published after a rule evaluation created an alert and
// its transaction committed.
type AlertFiredEvent struct {
	EventID       string  `json:"event_id"`
	AlertID       int64   `json:"alert_id"`
	RuleID        int64   `json:"rule_id"`
	RuleName      string  `json:"rule_name"`
	Severity      string  `json:"severity"`
	ParameterID   int64   `json:"parameter_id"`
	MeasurementID int64   `json:"measurement_id"`
	RawValue      float64 `json:"raw_value"`
	MeasuredAt    int64   `json:"measured_at"`
	CreatedAt     int64   `json:"created_at"`
}

// PublishAlertFired publishes one alert.fired event.
func (p *Publisher) PublishAlertFired(ctx context.Context, event AlertFiredEvent, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		metrics.EventPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.EventPublishTotal.WithLabelValues("success").Inc()

	p.logger.Debug("published alert.fired event",
		zap.String("routing_key", routingKey),
		zap.Int64("alert_id", event.AlertID),
		zap.String("severity", event.Severity),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
