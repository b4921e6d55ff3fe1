package scheduler_config

import (
	"time"

	"github.com/NordCoder/Beacon/internal/config"
	"github.com/NordCoder/Beacon/internal/notify"
	"github.com/NordCoder/Beacon/internal/outbox"
	pginfra "github.com/NordCoder/Beacon/internal/repository/postgres"
	"github.com/NordCoder/Beacon/internal/services/dispatcher"
	"github.com/NordCoder/Beacon/internal/services/prune"
)

type KafkaCfg struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

type SchedCfg struct {
	Tick          time.Duration `mapstructure:"tick"`
	BatchLimit    int           `mapstructure:"batch_limit"`
	Workers       int           `mapstructure:"workers"`
	LateTolerance time.Duration `mapstructure:"late_tolerance"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

type ServerCfg struct {
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Config struct {
	App      config.App        `mapstructure:"app"`
	Log      config.Log        `mapstructure:"log"`
	OTEL     config.OTEL       `mapstructure:"otel"`
	DB       pginfra.Config    `mapstructure:"db"`
	Kafka    KafkaCfg          `mapstructure:"kafka"`
	Sched    SchedCfg          `mapstructure:"sched"`
	Prune    prune.Config      `mapstructure:"prune"`
	Dispatch dispatcher.Config `mapstructure:"dispatch"`
	Outbox   outbox.Config     `mapstructure:"outbox"`
	SMTP     notify.SMTPConfig `mapstructure:"smtp"`
	Channels notify.Endpoints  `mapstructure:"channels"`
	HTTP     notify.HTTPConfig `mapstructure:"http"`
	Server   ServerCfg         `mapstructure:"server"`
}

func (c *Config) Validate() error {
	switch {
	case c.DB.URL == "":
		return config.ErrConfig("db.dsn is required")
	case c.Sched.Tick <= 0:
		return config.ErrConfig("sched.tick must be positive")
	case c.Sched.BatchLimit <= 0:
		return config.ErrConfig("sched.batch_limit must be positive")
	case c.Sched.Workers <= 0:
		return config.ErrConfig("sched.workers must be positive")
	case c.Sched.LateTolerance < 0:
		return config.ErrConfig("sched.late_tolerance must not be negative")
	case c.Prune.Every <= 0:
		return config.ErrConfig("prune.every must be positive")
	case c.Dispatch.Timeout <= 0:
		return config.ErrConfig("dispatch.timeout must be positive")
	case c.Outbox.Workers <= 0 || c.Outbox.BatchSize <= 0:
		return config.ErrConfig("outbox.workers and outbox.batch_size must be positive")
	case c.Kafka.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == ""):
		return config.ErrConfig("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}
