package main

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"

	"github.com/daseme/ctv-bookedbiz-db-sub004/config"
)

// newLogger returns the service logger and a flush func for shutdown.
func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build(zap.Fields(
		zap.String("service", cfg.AppName),
		zap.String("version", cfg.Version),
	))
	if err != nil {
		return nil, nil, err
	}

	flush := func() { _ = zapLogger.Sync() }
	return zapadapter.NewZapEctoLogger(zapLogger, nil), flush, nil
}
