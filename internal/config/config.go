// Package config provides configuration management for ipslamon.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/vesaa/ipslamon/internal/store"
)

// Config holds all runtime configuration for ipslamon.
type Config struct {
	// ── Ingestion ────────────────────────────────────────────────────────────
	InputDir  string `mapstructure:"input_dir"`
	InputGlob string `mapstructure:"input_glob"`
	// DeleteIngested removes an input file once its records are persisted.
	DeleteIngested bool   `mapstructure:"delete_ingested"`
	MergePolicy    string `mapstructure:"merge_policy"` // first-write-wins | last-write-wins

	// ── Storage ──────────────────────────────────────────────────────────────
	DBDriver string `mapstructure:"db_driver"` // only "sqlite"
	DBPath   string `mapstructure:"db_path"`

	// ── Tabular export ───────────────────────────────────────────────────────
	XLSXPath  string `mapstructure:"xlsx_path"`
	DataSheet string `mapstructure:"data_sheet"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text | json

	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort (6677): JWT-protected status, records and chart queries
	ControlPort int `mapstructure:"control_port"`
	// DataPort (1616): raw report submission, Bearer agent token protected
	DataPort   int    `mapstructure:"data_port"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	AgentToken string `mapstructure:"agent_token"`
	AdminUser  string `mapstructure:"admin_user"`
	AdminPass  string `mapstructure:"admin_pass"`

	// ── Router (SSH fetch) ───────────────────────────────────────────────────
	RouterHost     string `mapstructure:"router_host"`
	RouterUser     string `mapstructure:"router_user"`
	RouterPassword string `mapstructure:"router_password"`
	RouterKeyPath  string `mapstructure:"router_key_path"`
	// SLAOperation is the operation id fetch reads; fetch refuses to run without one.
	SLAOperation string `mapstructure:"sla_operation"`
	// AgentPushAddr is the data-plane address fetched reports are pushed to.
	AgentPushAddr string `mapstructure:"agent_push_addr"`
}

// Load reads config from file (./config.yaml or ~/.ipslamon/config.yaml)
// and falls back to defaults. Environment variables with prefix IPSLA_
// override file values.
func Load() (*Config, error) {
	return load(viper.New())
}

// LoadFile reads config from an explicit path instead of the search path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ipslamon")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("IPSLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_dir", "input")
	v.SetDefault("input_glob", "*.txt")
	v.SetDefault("delete_ingested", true)
	v.SetDefault("merge_policy", string(store.FirstWriteWins))

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "ipsla.db")

	v.SetDefault("xlsx_path", "Ip_SLA_measurements.xlsx")
	v.SetDefault("data_sheet", "IP_SLA_Data")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 6677)
	v.SetDefault("data_port", 1616)
	// Security defaults: MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "Ip5la$Wq7@nR2!kZ9#tM6^cV4&eB1*hY")
	v.SetDefault("agent_token", "ipslamon-secret-key-123")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("router_host", "")
	v.SetDefault("router_user", "admin")
	v.SetDefault("router_password", "")
	v.SetDefault("router_key_path", "")
	v.SetDefault("sla_operation", "")
	v.SetDefault("agent_push_addr", "127.0.0.1:1616")
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	if _, err := store.ParsePolicy(c.MergePolicy); err != nil {
		return err
	}
	switch c.DBDriver {
	case "sqlite", "":
	default:
		return fmt.Errorf("unsupported db_driver %q (use 'sqlite')", c.DBDriver)
	}
	if c.ControlPort <= 0 || c.DataPort <= 0 {
		return fmt.Errorf("control_port and data_port must be positive (got %d, %d)", c.ControlPort, c.DataPort)
	}
	switch c.LogFormat {
	case "text", "json", "":
	default:
		return fmt.Errorf("unsupported log_format %q (use 'text' or 'json')", c.LogFormat)
	}
	return nil
}

// Policy returns the validated merge policy.
func (c *Config) Policy() store.Policy {
	p, _ := store.ParsePolicy(c.MergePolicy)
	return p
}

// LockPath is the single-writer lock guarding the store.
func (c *Config) LockPath() string {
	return c.DBPath + ".lock"
}
