package main

import (
	"context"
	"net/http"

	config "github.com/NordCoder/Beacon/internal/config/scheduler"
	"github.com/NordCoder/Beacon/internal/notify"
	"github.com/NordCoder/Beacon/internal/obs"
	pg "github.com/NordCoder/Beacon/internal/repository/postgres"
	"go.uber.org/zap"
)

func initDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pg.DB, error) {
	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("db connected", zap.Int32("max_conns", cfg.DB.MaxConns))
	return db, nil
}

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	closer, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		return nil, err
	}
	return closer.Shutdown, nil
}

// newHTTPClient is shared by every channel handler; each request is traced.
func newHTTPClient(cfg *config.Config, logger *zap.Logger) *http.Client {
	if !cfg.HTTP.VerifiesTLS() {
		logger.Warn("outbound TLS verification is disabled")
	}
	return notify.NewHTTPClient(cfg.HTTP)
}
