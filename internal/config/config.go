// Package config loads settings shared by the datactl CLI, the console and
// the MCP bridge from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration.
type Config struct {
	API       APIConfig
	Console   ConsoleConfig
	Health    HealthConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// APIConfig describes the remote D.A.T.A. API.
type APIConfig struct {
	URL        string
	Timeout    time.Duration
	WeightsKey string
	CacheTTL   time.Duration
}

// ConsoleConfig configures the browser-facing console server.
type ConsoleConfig struct {
	Port             int
	CORSOrigins      []string
	RateLimitRPS     float64
	RateLimitBurst   int
	UploadLimitBytes int64
}

// HealthConfig configures the background API probe.
type HealthConfig struct {
	Interval      time.Duration
	FailThreshold int
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string
	Development bool
}

// TelemetryConfig points at an OTLP collector; empty disables tracing.
type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// New returns a viper instance wired for name.yaml in paths, env vars with
// the given prefix ("." becomes "_", so api.url reads DATACTL_API_URL) and
// the package defaults.
func New(name, envPrefix string, paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every known key with its default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("api.weights_key", "1")
	v.SetDefault("api.cache_ttl", "0s")
	v.SetDefault("console.port", 8090)
	v.SetDefault("console.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("console.rate_limit_rps", 20)
	v.SetDefault("console.rate_limit_burst", 40)
	v.SetDefault("console.upload_limit_bytes", 10<<20)
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.fail_threshold", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "data")
}

// Read loads the config file if there is one. A missing file is not an error;
// found reports whether one was read.
func Read(v *viper.Viper) (found bool, err error) {
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &cfgNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read config: %w", err)
	}
	return true, nil
}

// FromViper resolves and checks the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		API: APIConfig{
			URL:        strings.TrimSpace(v.GetString("api.url")),
			Timeout:    v.GetDuration("api.timeout"),
			WeightsKey: v.GetString("api.weights_key"),
			CacheTTL:   v.GetDuration("api.cache_ttl"),
		},
		Console: ConsoleConfig{
			Port:             v.GetInt("console.port"),
			CORSOrigins:      v.GetStringSlice("console.cors_origins"),
			RateLimitRPS:     v.GetFloat64("console.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("console.rate_limit_burst"),
			UploadLimitBytes: v.GetInt64("console.upload_limit_bytes"),
		},
		Health: HealthConfig{
			Interval:      v.GetDuration("health.interval"),
			FailThreshold: v.GetInt("health.fail_threshold"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			ServiceName:  v.GetString("telemetry.service_name"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url %q: must be an absolute http(s) URL", c.API.URL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if strings.TrimSpace(c.API.WeightsKey) == "" {
		return fmt.Errorf("api.weights_key must not be empty")
	}
	if c.Console.Port <= 0 || c.Console.Port > 65535 {
		return fmt.Errorf("console.port %d out of range", c.Console.Port)
	}
	if c.Console.RateLimitRPS < 0 {
		return fmt.Errorf("console.rate_limit_rps must not be negative")
	}
	if c.Console.UploadLimitBytes <= 0 {
		return fmt.Errorf("console.upload_limit_bytes must be positive")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.FailThreshold < 1 {
		return fmt.Errorf("health.fail_threshold must be at least 1")
	}
	return nil
}
