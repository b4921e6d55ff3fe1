package ping_api_config

import (
	"time"

	"github.com/NordCoder/Beacon/internal/config"
	"github.com/NordCoder/Beacon/internal/ratelimit"
	pginfra "github.com/NordCoder/Beacon/internal/repository/postgres"
	"github.com/NordCoder/Beacon/internal/transport/httpping"
	"github.com/NordCoder/Beacon/internal/transport/natsping"
)

const (
	LimiterMemory   = "memory"
	LimiterPostgres = "postgres"
)

type RateLimitCfg struct {
	ratelimit.Config `mapstructure:",squash"`
	// Store is "memory" for a single instance or "postgres" to share
	// counters between instances.
	Store string `mapstructure:"store"`
}

type Config struct {
	App             config.App      `mapstructure:"app"`
	Log             config.Log      `mapstructure:"log"`
	OTEL            config.OTEL     `mapstructure:"otel"`
	DB              pginfra.Config  `mapstructure:"db"`
	HTTP            httpping.Config `mapstructure:"http"`
	NATS            natsping.Config `mapstructure:"nats"`
	RateLimit       RateLimitCfg    `mapstructure:"ratelimit"`
	MetricsAddr     string          `mapstructure:"metrics_addr"`
	GracefulTimeout time.Duration   `mapstructure:"graceful_timeout"`
}

func (c *Config) Validate() error {
	switch {
	case c.DB.URL == "":
		return config.ErrConfig("db.dsn is required")
	case c.HTTP.Addr == "":
		return config.ErrConfig("http.addr is required")
	case c.RateLimit.Store != LimiterMemory && c.RateLimit.Store != LimiterPostgres:
		return config.ErrConfig("ratelimit.store must be memory or postgres")
	case c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0:
		return config.ErrConfig("ratelimit.limit and ratelimit.window must be positive")
	case c.NATS.Enable && c.NATS.URL == "":
		return config.ErrConfig("nats.url is required when nats is enabled")
	}
	return nil
}
