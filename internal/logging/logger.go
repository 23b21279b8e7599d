package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the worker's production logger. Every entry carries the
// service name so ingest and alert logs can be told apart from other
// services sharing the log pipeline.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	return config.Build()
}

// WithRequestID returns a child logger scoped to one ingest message, keyed
// by the request id carried on (or generated for) the message.
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}
