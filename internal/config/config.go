// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	Storage struct {
		Backend     string `yaml:"backend"` // memory | postgres | redis
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPass   string `yaml:"redis_password"`
		RedisDB     int    `yaml:"redis_db"`
	} `yaml:"storage"`

	NATSURL string `yaml:"nats_url"` // empty disables the update mirror

	RateLimit       int           `yaml:"rate_limit"`
	EvictTTL        time.Duration `yaml:"evict_ttl"`
	BroadcastDelay  time.Duration `yaml:"broadcast_delay"`
	AutoRevealDelay time.Duration `yaml:"auto_reveal_delay"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.LogLevel = "info"
	c.Storage.Backend = "memory"
	c.RateLimit = 20
	c.EvictTTL = 5 * time.Minute
	c.BroadcastDelay = 50 * time.Millisecond
	c.AutoRevealDelay = 300 * time.Millisecond
	c.PingInterval = 30 * time.Second
	return c
}

// Load reads path (if it exists) and applies env overrides.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return c, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.PostgresDSN = getEnv("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPass = getEnv("REDIS_PASSWORD", c.Storage.RedisPass)
	c.Storage.RedisDB = getEnvAsInt("REDIS_DB", c.Storage.RedisDB)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.RateLimit = getEnvAsInt("RATE_LIMIT", c.RateLimit)

	return c, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
