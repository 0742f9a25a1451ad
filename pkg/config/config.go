// Package config loads the server configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds application-wide configuration.
type Config struct {
	Serve ServeConfig `mapstructure:"serve"`
}

// ServeConfig configures the API server and its database source.
type ServeConfig struct {
	ListenAddr   string           `mapstructure:"listenAddr"`
	BaseURL      string           `mapstructure:"baseURL"`     // path prefix in front of /api
	MetricsAddr  string           `mapstructure:"metricsAddr"` // empty disables the metrics listener
	QueryTimeout time.Duration    `mapstructure:"queryTimeout"`
	DB           DBConfig         `mapstructure:"db"`
	Pagination   PaginationConfig `mapstructure:"pagination"`
}

type DBConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"maxConns"`
	AcquireTimeout time.Duration `mapstructure:"acquireTimeout"`
}

type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"defaultPageSize"`
	MaxPageSize     int `mapstructure:"maxPageSize"`
}

func Default() Config {
	return Config{
		Serve: ServeConfig{
			ListenAddr:   ":8080",
			QueryTimeout: 30 * time.Second,
			DB: DBConfig{
				MaxConns:       4,
				AcquireTimeout: 5 * time.Second,
			},
			Pagination: PaginationConfig{
				DefaultPageSize: 40,
				MaxPageSize:     500,
			},
		},
	}
}

// Load reads config from file or environment. Environment variables use the
// TABULA prefix with underscores standing in for dots: TABULA_SERVE_DB_URL
// overrides serve.db.url.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("tabula")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TABULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default registered for AutomaticEnv to see it.
	defaults := Default()
	v.SetDefault("serve.listenAddr", defaults.Serve.ListenAddr)
	v.SetDefault("serve.baseURL", "")
	v.SetDefault("serve.metricsAddr", "")
	v.SetDefault("serve.queryTimeout", defaults.Serve.QueryTimeout)
	v.SetDefault("serve.db.url", "")
	v.SetDefault("serve.db.maxConns", defaults.Serve.DB.MaxConns)
	v.SetDefault("serve.db.acquireTimeout", defaults.Serve.DB.AcquireTimeout)
	v.SetDefault("serve.pagination.defaultPageSize", defaults.Serve.Pagination.DefaultPageSize)
	v.SetDefault("serve.pagination.maxPageSize", defaults.Serve.Pagination.MaxPageSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
