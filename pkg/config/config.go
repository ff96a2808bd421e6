package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Market  MarketConfig  `mapstructure:"market"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type AppConfig struct {
	Port      string `mapstructure:"port"`
	Env       string `mapstructure:"env"`        // e.g., "local", "prod"
	PublicDir string `mapstructure:"public_dir"` // static assets, empty disables
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

// MarketConfig describes the fixed instrument universe and the random walk.
type MarketConfig struct {
	Tickers      []string      `mapstructure:"tickers"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	FloorPrice   float64       `mapstructure:"floor_price"`
	MaxDelta     float64       `mapstructure:"max_delta"`
	HistorySize  int           `mapstructure:"history_size"`
	BasePriceMin float64       `mapstructure:"base_price_min"`
	BasePriceMax float64       `mapstructure:"base_price_max"`
}

type GatewayConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type StoreConfig struct {
	Backend    string        `mapstructure:"backend"` // file, redis, sqlite
	Path       string        `mapstructure:"path"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	MirrorTicks bool   `mapstructure:"mirror_ticks"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Partitions int      `mapstructure:"partitions"`
}

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// LoadConfig reads configuration from .env file, an optional config.yaml,
// environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env goes into the process environment so APP_PORT etc. behave like real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not reach nested struct fields during Unmarshal
	bindEnv(v, "app.port", "app.env", "app.public_dir")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "market.tickers", "market.tick_interval", "market.floor_price", "market.max_delta",
		"market.history_size", "market.base_price_min", "market.base_price_max")
	bindEnv(v, "gateway.send_buffer", "gateway.write_wait", "gateway.pong_wait",
		"gateway.ping_period", "gateway.max_message_size")
	bindEnv(v, "store.backend", "store.path", "store.sqlite_path", "store.debounce")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.mirror_ticks")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.partitions")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":3000")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.public_dir", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("market.tickers", []string{"GOOG", "TSLA", "AMZN", "META", "NVDA"})
	v.SetDefault("market.tick_interval", time.Second)
	v.SetDefault("market.floor_price", 10.0)
	v.SetDefault("market.max_delta", 0.05)
	v.SetDefault("market.history_size", 60)
	v.SetDefault("market.base_price_min", 100.0)
	v.SetDefault("market.base_price_max", 1100.0)

	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 50*time.Second)
	v.SetDefault("gateway.max_message_size", 512*1024)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "users-data.json")
	v.SetDefault("store.sqlite_path", "users-data.db")
	v.SetDefault("store.debounce", time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mirror_ticks", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.partitions", 4)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if len(c.Market.Tickers) == 0 {
		return fmt.Errorf("market tickers cannot be empty")
	}
	if c.Market.TickInterval <= 0 {
		return fmt.Errorf("market tick_interval must be positive, got %s", c.Market.TickInterval)
	}
	if c.Market.FloorPrice <= 0 {
		return fmt.Errorf("market floor_price must be positive, got %v", c.Market.FloorPrice)
	}
	if c.Market.MaxDelta <= 0 || c.Market.MaxDelta >= 1 {
		return fmt.Errorf("market max_delta must be in (0,1), got %v", c.Market.MaxDelta)
	}
	if c.Market.HistorySize <= 0 {
		return fmt.Errorf("market history_size must be positive, got %d", c.Market.HistorySize)
	}
	if c.Market.BasePriceMin < c.Market.FloorPrice || c.Market.BasePriceMax < c.Market.BasePriceMin {
		return fmt.Errorf("market base price range [%v,%v] is invalid", c.Market.BasePriceMin, c.Market.BasePriceMax)
	}
	if c.Gateway.SendBuffer <= 0 {
		return fmt.Errorf("gateway send_buffer must be positive, got %d", c.Gateway.SendBuffer)
	}
	switch c.Store.Backend {
	case BackendFile, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
