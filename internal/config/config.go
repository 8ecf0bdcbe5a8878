package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	UserID      string `mapstructure:"user_id"`
	LogLevel    string `mapstructure:"log_level"`
	PrettyLogs  bool   `mapstructure:"pretty_logs"`
	Debug       bool   `mapstructure:"debug"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the remote store. An empty DSN runs the daemon on
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type SyncConfig struct {
	MaxNameMembers int    `mapstructure:"max_name_members"`
	NameBudget     int    `mapstructure:"name_budget"`
	Placeholder    string `mapstructure:"placeholder"`
	Concurrency    int    `mapstructure:"concurrency"`
}

const envPrefix = "CHAT_SYNC"

var ErrMissingUser = errors.New("app.user_id is required")

// Load reads configPath (optional) and CHAT_SYNC_* environment overrides,
// e.g. CHAT_SYNC_DATABASE_DSN for database.dsn.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chat-sync")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.user_id", "")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.pretty_logs", false)
	v.SetDefault("app.debug", false)

	v.SetDefault("http.addr", "127.0.0.1:8086")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "audit.events")
	v.SetDefault("amqp.routing_key", "audit.chat_sync")

	v.SetDefault("tracing.endpoint", "")

	v.SetDefault("sync.max_name_members", 5)
	v.SetDefault("sync.name_budget", 30)
	v.SetDefault("sync.placeholder", "Unnamed Chat")
	v.SetDefault("sync.concurrency", 8)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.UserID) == "" {
		return ErrMissingUser
	}
	if c.Sync.MaxNameMembers < 1 {
		return fmt.Errorf("sync.max_name_members must be positive, got %d", c.Sync.MaxNameMembers)
	}
	if c.Sync.NameBudget < 4 {
		return fmt.Errorf("sync.name_budget must be at least 4, got %d", c.Sync.NameBudget)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency)
	}
	return nil
}

// MemoryMode reports whether the daemon runs without a database.
func (c *Config) MemoryMode() bool {
	return c.Database.DSN == ""
}
