package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/NordCoder/Beacon/internal/config"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/migrations"
)

// usage: migrator [-config path] [up|down|status|version]
func main() {
	configPath := flag.String("config", envOr("BEACON_CONFIG", "config/scheduler.yaml"), "config file holding the db section")
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	v, err := config.NewViper(*configPath, "migrator")
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(obs.LogConfig{Level: v.GetString("log.level"), Pretty: v.GetBool("log.pretty"), App: "beacon/migrator"})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	dsn := v.GetString("db.dsn")
	if dsn == "" {
		l.Fatal("db.dsn is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		l.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		l.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := goose.RunContext(ctx, command, db, "."); err != nil {
		l.Fatal("migrate", zap.String("command", command), zap.Error(err))
	}
	l.Info("migrations done", zap.String("command", command))
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
