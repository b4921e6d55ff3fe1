package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/NordCoder/Beacon/internal/config"
	config "github.com/NordCoder/Beacon/internal/config/scheduler"
	"github.com/NordCoder/Beacon/internal/obs"
	kafkaRepo "github.com/NordCoder/Beacon/internal/repository/kafka"
)

// kafka-init creates the status-change topic the scheduler publishes to.
func main() {
	configPath := flag.String("config", envOr("BEACON_CONFIG", "config/scheduler.yaml"), "path to scheduler config")
	wait := flag.Duration("wait", 60*time.Second, "overall deadline")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(appcfg.AsLoggerConfig(appcfg.App{Name: "kafka-init", Env: cfg.App.Env, Version: cfg.App.Version}, cfg.Log))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	spec := kafkaRepo.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		MaxWait:           *wait / 2,
	}
	if err := kafkaRepo.EnsureTopic(ctx, cfg.Kafka.Brokers, spec, l); err != nil {
		l.Fatal("ensure topic", zap.String("topic", spec.Name), zap.Error(err))
	}
	l.Info("kafka-init ok", zap.String("topic", spec.Name))
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
