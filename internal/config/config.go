package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bidding-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the snapshot cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AMQPConfig covers the broker integration with the auction service.
type AMQPConfig struct {
	URL            string `mapstructure:"url"`
	Exchange       string `mapstructure:"exchange"`
	CreatedQueue   string `mapstructure:"created_queue"`
	CancelledQueue string `mapstructure:"cancelled_queue"`
	CompletedQueue string `mapstructure:"completed_queue"`
}

// AuctionConfig tunes per-session bidding behaviour.
type AuctionConfig struct {
	LeaderPolicy     string `mapstructure:"leader_policy"`
	HistoryLimit     int    `mapstructure:"history_limit"`
	RecordBuffer     int    `mapstructure:"record_buffer"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

// DirectoryConfig points at the external auction service for config fetch/poll.
type DirectoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// IdentityConfig covers bearer-token verification on the websocket handshake.
type IdentityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// AlertingConfig defines operator alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIDENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bidding-engine")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8084")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("amqp.exchange", "resource-events-exchange")
	v.SetDefault("amqp.created_queue", "auction.created.queue")
	v.SetDefault("amqp.cancelled_queue", "auction.cancelled.queue")
	v.SetDefault("amqp.completed_queue", "auction.completed")

	v.SetDefault("auction.leader_policy", "allow-self-raise")
	v.SetDefault("auction.history_limit", 50)
	v.SetDefault("auction.record_buffer", 256)
	v.SetDefault("auction.subscriber_buffer", 32)

	v.SetDefault("directory.poll_interval", "30s")
	v.SetDefault("directory.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	switch c.Auction.LeaderPolicy {
	case "allow-self-raise", "reject-self-raise":
	default:
		return fmt.Errorf("auction.leader_policy must be allow-self-raise or reject-self-raise")
	}
	if c.Auction.HistoryLimit <= 0 {
		return fmt.Errorf("auction.history_limit must be greater than zero")
	}
	if c.Auction.SubscriberBuffer <= 0 {
		return fmt.Errorf("auction.subscriber_buffer must be greater than zero")
	}
	if c.Directory.BaseURL != "" && c.Directory.PollInterval <= 0 {
		return fmt.Errorf("directory.poll_interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}
