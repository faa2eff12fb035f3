package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration loaded once at startup. Detection
// thresholds are not part of it: they are re-read per request through a
// Provider so operational tuning takes effect immediately.
type Config struct {
	HTTPAddr    string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string
	LogJSON  bool

	BookCacheTTL time.Duration
}

// Load reads process configuration from the environment via viper.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("exchange")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("book_cache_ttl", "5m")

	dsn := v.GetString("postgres_dsn")
	if dsn == "" {
		return nil, fmt.Errorf("config: EXCHANGE_POSTGRES_DSN is required")
	}

	return &Config{
		HTTPAddr:      v.GetString("http_addr"),
		PostgresDSN:   dsn,
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		LogLevel:      v.GetString("log_level"),
		LogJSON:       v.GetBool("log_json"),
		BookCacheTTL:  v.GetDuration("book_cache_ttl"),
	}, nil
}
