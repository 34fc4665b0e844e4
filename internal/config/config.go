// Package config provides runtime configuration for webhuawei.
// It uses Viper to load settings from an optional config file and
// environment variables (prefix WEBHUAWEI_), with defaults tuned for
// a single NE8000 router.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Timeouts groups the router connection deadlines.
type Timeouts struct {
	Connect time.Duration `mapstructure:"connect"`
	Command time.Duration `mapstructure:"command"`
	Auth    time.Duration `mapstructure:"auth"`
}

// Router describes the single device this service talks to.
// Immutable after Load.
type Router struct {
	Host       string `mapstructure:"host"`
	SSHPort    int    `mapstructure:"ssh_port"`
	TelnetPort int    `mapstructure:"telnet_port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	// Protocol is "ssh" or "telnet".
	Protocol string   `mapstructure:"protocol"`
	Timeouts Timeouts `mapstructure:"timeouts"`
}

// Pool configures the connection pool.
type Pool struct {
	MaxConnections int           `mapstructure:"max_connections"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// Retry configures the executor's batch retry policy.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// Cache configures the tiered cache. Redis is the remote tier; when it
// is unreachable the cache silently degrades to local-only.
type Cache struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTLInterfaces time.Duration `mapstructure:"ttl_interfaces"`
	TTLPppoeStats time.Duration `mapstructure:"ttl_pppoe_stats"`
	TTLSystem     time.Duration `mapstructure:"ttl_system_metrics"`
	TTLTraffic    time.Duration `mapstructure:"ttl_traffic_data"`
}

// Poller configures the background collection loop.
type Poller struct {
	Tick               time.Duration `mapstructure:"tick"`
	IntervalInterfaces time.Duration `mapstructure:"interval_interfaces"`
	IntervalPppoe      time.Duration `mapstructure:"interval_pppoe"`
	IntervalSystem     time.Duration `mapstructure:"interval_system"`
	IntervalTraffic    time.Duration `mapstructure:"interval_traffic"`
	FallbackTTL        time.Duration `mapstructure:"fallback_ttl"`
}

// Config holds all runtime configuration for webhuawei.
type Config struct {
	// ── HTTP server ──────────────────────────────────────────────────────────
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
	DBPath     string `mapstructure:"db_path"`
	LogLevel   string `mapstructure:"log_level"`
	// LogJSON switches zerolog from console to JSON output.
	LogJSON bool `mapstructure:"log_json"`

	// ── Security ─────────────────────────────────────────────────────────────
	// JWTSecret signs control-plane tokens (HS256). Override in production.
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	Router Router `mapstructure:"router"`
	Pool   Pool   `mapstructure:"pool"`
	Retry  Retry  `mapstructure:"retry"`
	Cache  Cache  `mapstructure:"cache"`
	Poller Poller `mapstructure:"poller"`
}

// Load reads config from file (./config.yaml or ~/.webhuawei/config.yaml)
// and falls back to defaults. Environment variables with prefix WEBHUAWEI_
// override file values, e.g. WEBHUAWEI_ROUTER_HOST, WEBHUAWEI_ROUTER_PASSWORD.
func Load() (*Config, error) {
	v := viper.New()

	// --- Defaults ---
	v.SetDefault("listen_host", "0.0.0.0")
	v.SetDefault("listen_port", 8000)
	v.SetDefault("db_path", "webhuawei.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// Security defaults — MUST be overridden in production.
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("router.host", "")
	v.SetDefault("router.ssh_port", 22)
	v.SetDefault("router.telnet_port", 23)
	v.SetDefault("router.username", "")
	v.SetDefault("router.password", "")
	v.SetDefault("router.protocol", "ssh")
	v.SetDefault("router.timeouts.connect", 8*time.Second)
	v.SetDefault("router.timeouts.command", 12*time.Second)
	v.SetDefault("router.timeouts.auth", 15*time.Second)

	v.SetDefault("pool.max_connections", 5)
	v.SetDefault("pool.idle_timeout", 5*time.Minute)
	v.SetDefault("pool.max_age", 30*time.Minute)
	v.SetDefault("pool.sweep_interval", 30*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 1500*time.Millisecond)
	v.SetDefault("retry.max_delay", 8*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_interfaces", 45*time.Second)
	v.SetDefault("cache.ttl_pppoe_stats", 20*time.Second)
	v.SetDefault("cache.ttl_system_metrics", 60*time.Second)
	v.SetDefault("cache.ttl_traffic_data", 30*time.Second)

	v.SetDefault("poller.tick", 5*time.Second)
	v.SetDefault("poller.interval_interfaces", 30*time.Second)
	v.SetDefault("poller.interval_pppoe", 15*time.Second)
	v.SetDefault("poller.interval_system", 45*time.Second)
	v.SetDefault("poller.interval_traffic", 20*time.Second)
	v.SetDefault("poller.fallback_ttl", 60*time.Second)

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.webhuawei")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment variables ---
	v.SetEnvPrefix("WEBHUAWEI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate fails fast when required device settings are absent or
// inconsistent. Called once at startup; a failure aborts the process.
func (c *Config) Validate() error {
	if c.Router.Host == "" {
		return fmt.Errorf("router.host is required (WEBHUAWEI_ROUTER_HOST)")
	}
	if c.Router.Username == "" || c.Router.Password == "" {
		return fmt.Errorf("router credentials are required (WEBHUAWEI_ROUTER_USERNAME / WEBHUAWEI_ROUTER_PASSWORD)")
	}
	switch c.Router.Protocol {
	case "ssh", "telnet":
	default:
		return fmt.Errorf("router.protocol must be ssh or telnet, got %q", c.Router.Protocol)
	}
	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.max_connections must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}

// CategoryTTL returns the cache TTL for a poll category.
func (c *Config) CategoryTTL(category string) time.Duration {
	switch category {
	case "interfaces":
		return c.Cache.TTLInterfaces
	case "pppoe_stats":
		return c.Cache.TTLPppoeStats
	case "system_metrics":
		return c.Cache.TTLSystem
	case "traffic_data":
		return c.Cache.TTLTraffic
	default:
		return 30 * time.Second
	}
}
