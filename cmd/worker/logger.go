package main

import (
	"github.com/climasense/station-alert-worker/internal/config"
	"github.com/climasense/station-alert-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
