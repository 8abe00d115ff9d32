// Package config provides configuration management for the hublink daemon.
// It loads settings from environment variables with sensible defaults;
// command-line flags override them.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/pflag"

	"github.com/coregx/hublink"
)

// Config holds all configuration for the hublink daemon.
type Config struct {
	Hub      HubConfig
	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Debug    bool
}

// HubConfig holds the hub connection seed. When URL or WSURL is set the
// values are written to the settings table at startup.
type HubConfig struct {
	URL   string // base address, e.g. http://hub.local:8123
	WSURL string // explicit realtime endpoint, wins over URL
	Token string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite3
	Host     string
	Port     int
	User     string
	Password string
	Database string // file path for sqlite3
	Prefix   string // Table prefix (default: "hublink_")
}

// QueueConfig holds offline queue configuration.
type QueueConfig struct {
	FlushInterval       int  // Periodic flush interval in seconds
	MaxSize             int  // Queued commands kept before evicting the oldest
	ProbeInterval       int  // Hub reachability probe interval in seconds
	EnableNotifications bool // Log queue notifications
}

// Load loads configuration from environment variables, then applies
// command-line flags from args.
// Follows 12-factor app principles - configuration via environment.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		Hub: HubConfig{
			URL:   getEnv("HUB_URL", ""),
			WSURL: getEnv("HUB_WS_URL", ""),
			Token: getEnv("HUB_TOKEN", ""),
		},
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite3"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "hublink"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "hublink.db"),
			Prefix:   getEnv("DB_PREFIX", "hublink_"),
		},
		Queue: QueueConfig{
			FlushInterval:       getEnvInt("HUBLINK_FLUSH_INTERVAL", 60),
			MaxSize:             getEnvInt("HUBLINK_MAX_QUEUE", 1000),
			ProbeInterval:       getEnvInt("HUBLINK_PROBE_INTERVAL", 15),
			EnableNotifications: getEnvBool("HUBLINK_ENABLE_NOTIFICATIONS", true),
		},
		Debug: getEnvBool("HUBLINK_DEBUG", false),
	}

	fs := pflag.NewFlagSet("hublink", pflag.ContinueOnError)
	listen := fs.String("listen", "", "HTTP listen address host:port (overrides SERVER_HOST/SERVER_PORT)")
	fs.StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "database driver: sqlite3, mysql or postgres")
	fs.StringVar(&cfg.Database.Database, "db", cfg.Database.Database, "database name, or file path for sqlite3")
	fs.StringVar(&cfg.Hub.URL, "hub-url", cfg.Hub.URL, "hub base address")
	fs.BoolVarP(&cfg.Debug, "debug", "d", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *listen != "" {
		host, port, err := net.SplitHostPort(*listen)
		if err != nil {
			return nil, fmt.Errorf("invalid --listen %q: %w", *listen, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid --listen port %q", port)
		}
		cfg.Server.Host, cfg.Server.Port = host, p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	networked := c.Database.Driver != "sqlite3"
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite3", "mysql", "postgres")),
		validation.Field(&c.Database.Database, validation.Required),
		validation.Field(&c.Database.Password, validation.When(networked, validation.Required.Error("is required for mysql and postgres"))),
		validation.Field(&c.Database.Port, validation.When(networked, validation.Required, validation.Min(1), validation.Max(65535))),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := validation.ValidateStruct(&c.Queue,
		validation.Field(&c.Queue.FlushInterval, validation.Required, validation.Min(1)),
		validation.Field(&c.Queue.MaxSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Queue.ProbeInterval, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if c.Hub.URL != "" || c.Hub.WSURL != "" {
		if _, err := c.Hub.ConnectionConfig(); err != nil {
			return fmt.Errorf("hub: %w", err)
		}
	}
	return nil
}

// Seeded reports whether the environment carries hub connection settings.
func (h HubConfig) Seeded() bool {
	return h.URL != "" || h.WSURL != ""
}

// ConnectionConfig resolves the realtime endpoint and pairs it with the token.
func (h HubConfig) ConnectionConfig() (hublink.ConnectionConfig, error) {
	endpoint, err := hublink.ResolveEndpoint(h.URL, h.WSURL)
	if err != nil {
		return hublink.ConnectionConfig{}, err
	}
	return hublink.ConnectionConfig{EndpointURL: endpoint, Token: h.Token}, nil
}

// FlushEvery returns the periodic flush interval.
func (q QueueConfig) FlushEvery() time.Duration {
	return time.Duration(q.FlushInterval) * time.Second
}

// ProbeEvery returns the reachability probe interval.
func (q QueueConfig) ProbeEvery() time.Duration {
	return time.Duration(q.ProbeInterval) * time.Second
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves environment variable as boolean or returns default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
