package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/internal/ratelimit"
	pg "github.com/NordCoder/Beacon/internal/repository/postgres"
	"github.com/NordCoder/Beacon/internal/services/ingest"
	"github.com/NordCoder/Beacon/internal/transport/httpping"
	"github.com/NordCoder/Beacon/internal/transport/natsping"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/NordCoder/Beacon/internal/config"
	config "github.com/NordCoder/Beacon/internal/config/ping-api"
)

func main() {
	configPath := flag.String("config", envOr("BEACON_CONFIG", "config/ping-api.yaml"), "path to ping-api config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(appcfg.AsLoggerConfig(cfg.App, cfg.Log))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting ping-api",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("limiter", cfg.RateLimit.Store),
		zap.Bool("nats", cfg.NATS.Enable),
	)

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	g, gctx := errgroup.WithContext(ctx)

	var limiter ratelimit.Store
	switch cfg.RateLimit.Store {
	case config.LimiterPostgres:
		store := pg.NewRateLimitStore(db, cfg.RateLimit.Config)
		g.Go(func() error { return sweepLimiter(gctx, store, cfg.RateLimit.Window, l) })
		limiter = store
	default:
		mem := ratelimit.NewMemory(cfg.RateLimit.Config, l)
		g.Go(func() error { mem.Run(gctx); return nil })
		limiter = mem
	}

	svc := ingest.New(l, pg.NewCheckRepo(db), pg.NewPingRepo(db), pg.NewTransactor(db, l), limiter, nil)

	srv := httpping.NewServer(cfg.HTTP, svc, l)
	g.Go(srv.Start)

	if cfg.NATS.Enable {
		nc, err := natsping.Connect(ctx, cfg.NATS.URL, "beacon-ping-api", l)
		if err != nil {
			l.Fatal("nats connect", zap.Error(err))
		}
		defer nc.Close()
		sub := natsping.New(nc, svc, cfg.NATS, l)
		g.Go(func() error { return sub.Start(gctx) })
	}

	ms := obs.BootstrapMetricsServer(cfg.MetricsAddr, l, obs.HealthCheck{Name: "db", Check: db.Ping})

	<-gctx.Done()
	l.Info("shutdown signal")

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Warn("http shutdown", zap.Error(err))
	}
	_ = ms.Shutdown(shCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("ping-api stopped with error", zap.Error(err))
	}
	time.Sleep(100 * time.Millisecond)
	l.Info("bye")
}

// sweepLimiter drops expired postgres rate-limit windows.
func sweepLimiter(ctx context.Context, store *pg.RateLimitStore, every time.Duration, l *zap.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := store.Sweep(ctx, now)
			if err != nil {
				l.Warn("rate limit sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				l.Debug("rate limit sweep", zap.Int64("dropped", n))
			}
		}
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
