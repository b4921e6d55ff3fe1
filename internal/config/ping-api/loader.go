package ping_api_config

import (
	"github.com/NordCoder/Beacon/internal/config"
)

func Load(path string) (*Config, error) {
	v, err := config.NewViper(path, "ping-api")
	if err != nil {
		return nil, err
	}

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "5s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.trusted_proxies", []string{})

	v.SetDefault("nats.enable", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.prefix", "beacon.ping")
	v.SetDefault("nats.queue", "ping-api")

	v.SetDefault("ratelimit.store", "memory")
	v.SetDefault("ratelimit.limit", 5)
	v.SetDefault("ratelimit.window", "10s")

	v.SetDefault("metrics_addr", ":8081")
	v.SetDefault("graceful_timeout", "15s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
