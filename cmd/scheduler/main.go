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

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/notify"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/internal/obs/retry"
	"github.com/NordCoder/Beacon/internal/outbox"
	kafkaRepo "github.com/NordCoder/Beacon/internal/repository/kafka"
	pg "github.com/NordCoder/Beacon/internal/repository/postgres"
	"github.com/NordCoder/Beacon/internal/services/dispatcher"
	"github.com/NordCoder/Beacon/internal/services/prune"
	"github.com/NordCoder/Beacon/internal/services/scheduler"
	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	appcfg "github.com/NordCoder/Beacon/internal/config"
	config "github.com/NordCoder/Beacon/internal/config/scheduler"
)

func main() {
	configPath := flag.String("config", envOr("BEACON_CONFIG", "config/scheduler.yaml"), "path to scheduler config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, atom, err := obs.NewLoggerWithLevel(appcfg.AsLoggerConfig(cfg.App, cfg.Log))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	err = config.Watch(*configPath,
		func(next *config.Config) {
			lvl := obs.ParseLevel(next.Log.Level)
			if lvl != atom.Level() {
				atom.SetLevel(lvl)
				l.Info("log level changed", zap.Stringer("level", lvl))
			}
		},
		func(err error) { l.Warn("config reload rejected", zap.Error(err)) },
	)
	if err != nil {
		l.Fatal("watch config", zap.Error(err))
	}

	l.Info("starting scheduler",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.Duration("tick", cfg.Sched.Tick),
		zap.Bool("kafka", cfg.Kafka.Enable),
	)

	// otel
	otelShutdown, err := initOTel(ctx, cfg)
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// db
	db, err := initDB(ctx, cfg, l)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// repositories
	checks := pg.NewCheckRepo(db)
	projects := pg.NewProjectRepo(db)
	pings := pg.NewPingRepo(db)
	alerts := pg.NewAlertRepo(db)
	channels := pg.NewChannelRepo(db)
	ob := pg.NewOutboxRepo(db)
	tx := pg.NewTransactor(db, l)
	clock := domain.SystemClock{}

	// dispatch
	registry := notify.NewRegistry(newHTTPClient(cfg, l), notify.NewMailer(cfg.SMTP, l), cfg.Channels, l)
	disp := dispatcher.New(l, dispatcher.Repos{
		Checks:   checks,
		Projects: projects,
		Channels: channels,
		Alerts:   alerts,
		Pings:    pings,
	}, registry, clock, cfg.Dispatch)

	var pub outbox.StatusPublisher
	if cfg.Kafka.Enable {
		prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
		defer func() { _ = prod.Close() }()
		pub = kafkaRepo.NewStatusEvents(prod)
	}
	obRunner := outbox.NewOutboxRunner(l, ob,
		outbox.MakeGlobalOutboxHandler(l, disp, pub, retry.OutboxPolicy(l, cfg.Outbox.Attempts)),
		cfg.Outbox,
	)

	// tick + prune
	uc := scheduler.NewUC(l, checks, ob, tx, clock, scheduler.Options{
		BatchLimit:    cfg.Sched.BatchLimit,
		Workers:       cfg.Sched.Workers,
		LateTolerance: cfg.Sched.LateTolerance,
		PublishStatus: cfg.Kafka.Enable,
	})
	ticker := scheduler.New(l, uc, cfg.Sched.Tick)
	pruner := prune.NewRunner(l, prune.New(l, checks, projects, pings, alerts, ob, clock, cfg.Prune), cfg.Prune.Every)

	// metrics + admin
	ms := obs.BootstrapMetricsServer(cfg.Sched.MetricsAddr, l, obs.HealthCheck{Name: "db", Check: db.Ping})
	grpcServer, hs, ln, err := buildAdminServer(cfg)
	if err != nil {
		l.Fatal("build grpc", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveGRPC(grpcServer, ln, l) })
	g.Go(func() error { return ticker.Run(gctx) })
	g.Go(func() error { return obRunner.Run(gctx) })
	g.Go(func() error { return pruner.Run(gctx) })

	for _, svc := range []string{svcOverall, svcTick, svcOutbox, svcPrune} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		l.Warn("sd_notify", zap.Error(err))
	} else if ok {
		l.Debug("sd_notify ready sent")
	}
	l.Info("scheduler started")

	<-gctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	hs.Shutdown()

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shCtx.Done():
		grpcServer.Stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("scheduler stopped with error", zap.Error(err))
	}
	time.Sleep(100 * time.Millisecond)
	l.Info("bye")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
