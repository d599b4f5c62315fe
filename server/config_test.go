package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.SessionBackend)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MEMEDIN_SESSION_BACKEND", "redis")
	t.Setenv("MEMEDIN_ICE_SERVERS", "stun:a:3478,turn:b:3478")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.SessionBackend)
	assert.Equal(t, []string{"stun:a:3478", "turn:b:3478"}, cfg.ICEServers)
}

func TestLoadConfigParseError(t *testing.T) {
	t.Setenv("MEMEDIN_QUEUE_SIZE", "lots")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Addr: ":8080", SessionBackend: BackendMemory, DBPath: "x.db", QueueSize: 1, LogLevel: "info"}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"unknown backend", func(c *Config) { c.SessionBackend = "etcd" }},
		{"redis without addr", func(c *Config) { c.SessionBackend = BackendRedis; c.RedisAddr = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
