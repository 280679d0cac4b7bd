package relay

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the relayd process configuration, loaded from the environment.
// RedisAddr and DatabaseURL are optional; empty means the feature is off
// (single-instance relay, in-memory snapshot storage).
type Config struct {
	Addr        string `env:"GRIDTOWN_ADDR" envDefault:":8090"`
	RedisAddr   string `env:"GRIDTOWN_REDIS_ADDR"`
	DatabaseURL string `env:"GRIDTOWN_DATABASE_URL"`
	QueueSize   int    `env:"GRIDTOWN_QUEUE_SIZE" envDefault:"64"`
	LogSinks    string `env:"GRIDTOWN_LOG_SINKS" envDefault:"console"`
	LogPath     string `env:"GRIDTOWN_LOG_PATH" envDefault:"relay-events.ndjson"`
}

// LoadConfig reads the relay configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
