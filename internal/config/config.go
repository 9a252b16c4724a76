package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	DatabaseMaxOpen    int
	DatabaseMaxIdle    int
	DatabaseLifetime   time.Duration
	RedisURL           string
	NATSURL            string
	JWTSecret          string
	EventsChannel      string
	ValidationLockTTL  time.Duration
	ValidationStale    time.Duration
	ValidationRate     int
	ValidationWindow   time.Duration
	ValidationSeed     uint64
	AllowedCORSOrigins string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GPTSTORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GPT Store API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("events.channel", "gptstore")
	v.SetDefault("validation.lock_ttl", "30s")
	v.SetDefault("validation.stale_after", "5m")
	v.SetDefault("validation.rate_limit", 10)
	v.SetDefault("validation.rate_window", "1m")
	v.SetDefault("validation.seed", 0)
	v.SetDefault("cors.origins", "*")

	lockTTL, err := parseDuration(v, "validation.lock_ttl")
	if err != nil {
		return Config{}, err
	}
	stale, err := parseDuration(v, "validation.stale_after")
	if err != nil {
		return Config{}, err
	}
	window, err := parseDuration(v, "validation.rate_window")
	if err != nil {
		return Config{}, err
	}
	lifetime, err := parseDuration(v, "database.conn_max_lifetime")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		DatabaseMaxOpen:    v.GetInt("database.max_open_conns"),
		DatabaseMaxIdle:    v.GetInt("database.max_idle_conns"),
		DatabaseLifetime:   lifetime,
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		JWTSecret:          v.GetString("jwt.secret"),
		EventsChannel:      v.GetString("events.channel"),
		ValidationLockTTL:  lockTTL,
		ValidationStale:    stale,
		ValidationRate:     v.GetInt("validation.rate_limit"),
		ValidationWindow:   window,
		ValidationSeed:     v.GetUint64("validation.seed"),
		AllowedCORSOrigins: v.GetString("cors.origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ValidationRate <= 0 {
		cfg.ValidationRate = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return duration, nil
}
