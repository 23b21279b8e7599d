package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/climasense/station-alert-worker/internal/config"
	"github.com/climasense/station-alert-worker/internal/engine"
	"github.com/climasense/station-alert-worker/internal/logging"
	"github.com/climasense/station-alert-worker/internal/metrics"
	"github.com/climasense/station-alert-worker/internal/mq"
	"github.com/climasense/station-alert-worker/internal/validator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestMessage represents the incoming message from RabbitMQ
type IngestMessage struct {
	RequestID  string    `json:"request_id"`
	StationID  int64     `json:"station_id"`
	ReceivedAt time.Time `json:"received_at"`
	Readings   []Reading `json:"readings"`
}

// Reading is one raw sensor reading inside an ingest message
type Reading struct {
	ParameterID int64  `json:"parameter_id"`
	Date        string `json:"date"`
	Value       string `json:"value"`
}

// ProcessorService handles message processing logic
type ProcessorService struct {
	generator *engine.AlertGenerator
	publisher *mq.Publisher
	validator *validator.Validator
	cfg       *config.Config
	logger    *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	generator *engine.AlertGenerator,
	publisher *mq.Publisher,
	validator *validator.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		generator: generator,
		publisher: publisher,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessMessage processes an incoming measurement message. Each reading is
// its own unit of work: a rejected reading (unknown parameter, inactive
// parameter, unparseable value) is logged and skipped without retry, while an
// infrastructure failure fails the whole message so it is dead-lettered.
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)
	reqLogger.Info("processing message",
		zap.Int64("station_id", msg.StationID),
		zap.Int("reading_count", len(msg.Readings)),
	)

	var events []mq.AlertFiredEvent
	ingested := 0

	for _, reading := range msg.Readings {
		readingEvents, ok, err := s.processSingleReading(ctx, reading, msg.ReceivedAt, reqLogger)
		if err != nil {
			reqLogger.Error("failed to process reading",
				zap.Error(err),
				zap.Int64("parameter_id", reading.ParameterID),
			)
			return fmt.Errorf("failed to process reading: %w", err)
		}
		if ok {
			ingested++
			events = append(events, readingEvents...)
		}
	}

	// Publish events after the per-reading transactions committed.
	for _, event := range events {
		if err := s.publisher.PublishAlertFired(ctx, event, s.cfg.RabbitMQ.AlertRoutingKey); err != nil {
			// Log error but don't fail the entire message processing
			reqLogger.Error("failed to publish event",
				zap.Error(err),
				zap.Int64("alert_id", event.AlertID),
			)
		}
	}

	reqLogger.Info("message processed successfully",
		zap.Int("readings_ingested", ingested),
		zap.Int("alerts_fired", len(events)),
	)

	return nil
}

// processSingleReading validates and ingests one reading. The bool result is
// false when the reading was rejected as a caller input error.
func (s *ProcessorService) processSingleReading(
	ctx context.Context,
	reading Reading,
	receivedAt time.Time,
	logger *zap.Logger,
) ([]mq.AlertFiredEvent, bool, error) {
	value, readingTime, err := s.validator.ValidateReading(validator.ReadingData{
		ParameterID: reading.ParameterID,
		Date:        reading.Date,
		Value:       reading.Value,
	}, receivedAt)
	if err != nil {
		logger.Warn("reading rejected",
			zap.Error(err),
			zap.Int64("parameter_id", reading.ParameterID),
		)
		metrics.ReadingsRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, false, nil
	}

	result, err := s.generator.IngestMeasurement(ctx, reading.ParameterID, value, readingTime.Unix())
	if err != nil {
		reason := rejectReason(err)
		if reason == "" {
			return nil, false, err
		}
		logger.Warn("reading rejected",
			zap.Error(err),
			zap.Int64("parameter_id", reading.ParameterID),
			zap.String("reason", reason),
		)
		metrics.ReadingsRejectedTotal.WithLabelValues(reason).Inc()
		return nil, false, nil
	}

	metrics.ReadingsProcessedTotal.Inc()

	events := make([]mq.AlertFiredEvent, 0, len(result.Alerts))
	for _, fired := range result.Alerts {
		metrics.AlertsFiredTotal.WithLabelValues(fired.Rule.Severity).Inc()
		events = append(events, mq.AlertFiredEvent{
			EventID:       uuid.NewString(),
			AlertID:       fired.Alert.ID,
			RuleID:        fired.Rule.ID,
			RuleName:      fired.Rule.Name,
			Severity:      fired.Rule.Severity,
			ParameterID:   reading.ParameterID,
			MeasurementID: result.Measurement.ID,
			RawValue:      result.Measurement.Value,
			MeasuredAt:    result.Measurement.MeasuredAt,
			CreatedAt:     fired.Alert.CreatedAt,
		})
	}
	return events, true, nil
}

// rejectReason maps caller input errors to a metrics label; infrastructure
// errors map to "".
func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidMeasurement):
		return "invalid"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrInactive):
		return "inactive"
	default:
		return ""
	}
}
