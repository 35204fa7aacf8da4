// Package config loads client configuration from harvest.yaml and
// HARVEST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the client configuration.
type Config struct {
	// APIURL is the base URL of the remote service.
	APIURL string `mapstructure:"api_url"`

	// AuthHeader is the header the credential travels in.
	AuthHeader string `mapstructure:"auth_header"`

	// AuthToken is the ready-made credential value.
	AuthToken string `mapstructure:"auth_token"`

	// Country is the tenant scope for all remote calls.
	Country string `mapstructure:"country"`

	// DBPath is the local store database file.
	DBPath string `mapstructure:"db_path"`

	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// DaemonInterval is how often the daemon runs a sync cycle.
	DaemonInterval time.Duration `mapstructure:"daemon_interval"`

	// TriggerFile is touched by the field UI to request an immediate
	// sync from the daemon.
	TriggerFile string `mapstructure:"trigger_file"`

	// DaemonLogFile receives rotated daemon logs; empty disables file
	// logging.
	DaemonLogFile string `mapstructure:"daemon_log_file"`

	// DashboardPort is the local status dashboard port; 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`
}

// Load reads configuration from the given file path (optional; empty
// means config file discovery in the working directory) merged with
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("auth_header", "Authorization")
	v.SetDefault("db_path", ".harvest/store.db")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("daemon_interval", 5*time.Minute)
	v.SetDefault("trigger_file", ".harvest/sync.trigger")
	v.SetDefault("dashboard_port", 0)

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("harvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".harvest")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields required for remote operation.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	if c.Country == "" {
		return fmt.Errorf("country is required")
	}
	return nil
}
