// Package config loads connector configuration from TOML files and
// environment variables using Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/magebridge/connector/internal/domain/integration"
)

// Config holds all connector configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	EAV       EAVConfig
	Nodes     []NodeConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name string
	Env  string // development, staging, production
}

// DatabaseConfig holds the canonical-store database configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // minutes
	ConnMaxIdleTime int // minutes
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout, stderr, or file path
}

// SchedulerConfig holds sync scheduling configuration
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration // time between sync rounds
	Overlap  time.Duration // checkpoint window overlap
}

// EAVConfig holds attribute-store behavior shared across nodes
type EAVConfig struct {
	Policy string // strict or lenient
}

// NodeConfig describes one remote node connection. Decoded from the
// [[nodes]] array in the config file.
type NodeConfig struct {
	Name           string             `mapstructure:"name"`
	BaseURL        string             `mapstructure:"base_url"`
	APIUser        string             `mapstructure:"api_user"`
	APIKey         string             `mapstructure:"api_key"`
	Endpoint       string             `mapstructure:"endpoint"`
	MultiStore     bool               `mapstructure:"multi_store"`
	LoadFullRecord bool               `mapstructure:"load_full_record"`
	LoadStock      bool               `mapstructure:"load_stock"`
	EAVDSN         string             `mapstructure:"eav_dsn"`
	RateLimit      float64            `mapstructure:"rate_limit"`
	ExtraAttrs     map[string][]string `mapstructure:"extra_attributes"`
	TimezoneDeltas map[string]int      `mapstructure:"timezone_deltas"`
}

// ToNode converts the decoded node section into a domain node
func (nc *NodeConfig) ToNode() *integration.Node {
	node := &integration.Node{
		Name:           nc.Name,
		BaseURL:        nc.BaseURL,
		APIUser:        nc.APIUser,
		APIKey:         nc.APIKey,
		Endpoint:       integration.EndpointVariant(nc.Endpoint),
		MultiStore:     nc.MultiStore,
		LoadFullRecord: nc.LoadFullRecord,
		LoadStock:      nc.LoadStock,
		EAVDSN:         nc.EAVDSN,
		RateLimit:      nc.RateLimit,
	}
	if len(nc.ExtraAttrs) > 0 {
		node.ExtraAttributes = make(map[integration.EntityType][]string, len(nc.ExtraAttrs))
		for k, v := range nc.ExtraAttrs {
			node.ExtraAttributes[integration.EntityType(k)] = v
		}
	}
	if len(nc.TimezoneDeltas) > 0 {
		node.TimezoneDeltas = make(map[integration.EntityType]int, len(nc.TimezoneDeltas))
		for k, v := range nc.TimezoneDeltas {
			node.TimezoneDeltas[integration.EntityType(k)] = v
		}
	}
	return node
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CONNECTOR_ prefix (e.g., CONNECTOR_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.SetDefault("scheduler.enabled", true)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/connector")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("CONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  v.GetBool("scheduler.enabled"),
			Interval: v.GetDuration("scheduler.interval"),
			Overlap:  v.GetDuration("scheduler.overlap"),
		},
		EAV: EAVConfig{
			Policy: v.GetString("eav.policy"),
		},
	}

	// Node sections are an array of tables, which AutomaticEnv cannot
	// override; they always come from the config file
	if err := v.UnmarshalKey("nodes", &cfg.Nodes); err != nil {
		return nil, fmt.Errorf("error decoding nodes: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "magebridge-connector"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "connector"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 15 * time.Minute
	}
	if cfg.Scheduler.Overlap == 0 {
		cfg.Scheduler.Overlap = 5 * time.Minute
	}
	if cfg.EAV.Policy == "" {
		cfg.EAV.Policy = "strict"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.EAV.Policy != "strict" && c.EAV.Policy != "lenient" {
		return fmt.Errorf("eav.policy must be strict or lenient, got %q", c.EAV.Policy)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	seen := make(map[string]struct{}, len(c.Nodes))
	for i := range c.Nodes {
		nc := &c.Nodes[i]
		node := nc.ToNode()
		if err := node.Validate(); err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if _, dup := seen[nc.Name]; dup {
			return fmt.Errorf("nodes[%d]: duplicate node name %q", i, nc.Name)
		}
		seen[nc.Name] = struct{}{}
		if nc.RateLimit < 0 {
			return fmt.Errorf("nodes[%d]: rate_limit cannot be negative", i)
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
