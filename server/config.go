package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Session store backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config holds the server settings. Flags override the environment.
type Config struct {
	Addr            string        `env:"MEMEDIN_ADDR"             envDefault:":8080"`
	SessionBackend  string        `env:"MEMEDIN_SESSION_BACKEND"  envDefault:"memory"`
	BadgerDir       string        `env:"MEMEDIN_BADGER_DIR"`
	RedisAddr       string        `env:"MEMEDIN_REDIS_ADDR"       envDefault:"localhost:6379"`
	DBPath          string        `env:"MEMEDIN_DB_PATH"          envDefault:"memedin.db"`
	ICEServers      []string      `env:"MEMEDIN_ICE_SERVERS"      envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	QueueSize       int           `env:"MEMEDIN_QUEUE_SIZE"       envDefault:"64"`
	LogLevel        string        `env:"MEMEDIN_LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"MEMEDIN_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// LoadConfig reads the configuration from the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendBadger:
		// an empty directory runs badger in memory
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis backend requires a redis address")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}

	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("invalid queue size: %d", c.QueueSize)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}
