package scheduler_config

import (
	"github.com/NordCoder/Beacon/internal/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

func load(path string) (*Config, *viper.Viper, error) {
	v, err := config.NewViper(path, "scheduler")
	if err != nil {
		return nil, nil, err
	}

	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka.topic", "beacon.checks.status")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("sched.tick", "30s")
	v.SetDefault("sched.batch_limit", 100)
	v.SetDefault("sched.workers", 8)
	v.SetDefault("sched.late_tolerance", "0s")
	v.SetDefault("sched.metrics_addr", ":8082")

	v.SetDefault("prune.every", "1h")
	v.SetDefault("prune.batch_limit", 500)
	v.SetDefault("prune.outbox_retention", "168h")

	v.SetDefault("dispatch.timeout", "90s")
	v.SetDefault("dispatch.enrich", true)
	v.SetDefault("dispatch.duration_sample", 5)

	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.wait_time", "1s")
	v.SetDefault("outbox.in_progress_ttl", "5m")
	v.SetDefault("outbox.attempts", 3)
	v.SetDefault("outbox.max_deliveries", 5)

	v.SetDefault("smtp.addr", "localhost:1025")
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "Beacon <noreply@beacon.local>")
	v.SetDefault("smtp.use_tls", false)
	v.SetDefault("smtp.timeout", "10s")
	v.SetDefault("smtp.subject_prefix", "[Beacon] ")

	v.SetDefault("channels.chat_app_api", "https://slack.com/api")
	v.SetDefault("channels.pagerduty_url", "https://events.pagerduty.com/v2/enqueue")
	v.SetDefault("channels.telegram_token", "")
	v.SetDefault("channels.telegram_api", "")

	v.SetDefault("http.timeout", "10s")
	v.SetDefault("http.user_agent", "Beacon/1.0")
	v.SetDefault("http.verify_tls", true)

	v.SetDefault("server.grpc_addr", ":9091")
	v.SetDefault("server.graceful_timeout", "15s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

// Watch re-reads path on every write and calls onChange with each valid
// result. Invalid edits go to onError and are otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return nil
	}
	_, v, err := load(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			onError(err)
			return
		}
		if err := next.Validate(); err != nil {
			onError(err)
			return
		}
		onChange(&next)
	})
	v.WatchConfig()
	return nil
}
