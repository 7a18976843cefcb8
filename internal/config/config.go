// Package config loads uma-sync settings from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

const (
	defaultDataDir = "/etc/uma-sync"
	envFileName    = ".env"
)

// Config holds runtime settings.
type Config struct {
	Host               string
	Port               int
	UseHTTPS           bool
	InsecureSkipVerify bool
	TLSFingerprint     string

	PollInterval             time.Duration
	CollectorRefreshInterval time.Duration
	FetchTimeout             time.Duration
	ConnectTimeout           time.Duration
	EnableWebsocket          bool

	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	ReconnectJitter     float64

	ListenAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	LogFile     string
	DNSCacheTTL time.Duration

	DataDir string
	EnvFile string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:                     unraid.DefaultPort,
		PollInterval:             30 * time.Second,
		CollectorRefreshInterval: 5 * time.Minute,
		FetchTimeout:             10 * time.Second,
		ConnectTimeout:           10 * time.Second,
		EnableWebsocket:          true,
		ReconnectBase:            time.Second,
		ReconnectMax:             30 * time.Second,
		ReconnectMultiplier:      2,
		ReconnectJitter:          0.1,
		ListenAddr:               ":7655",
		MetricsAddr:              ":9091",
		LogLevel:                 "info",
		LogFormat:                "auto",
		DNSCacheTTL:              5 * time.Minute,
		DataDir:                  defaultDataDir,
	}
}

// Load reads $UMA_DATA_DIR/.env and ./.env (without overriding variables
// already set), then the environment, and validates the result.
func Load() (*Config, error) {
	dataDir := defaultDataDir
	if dir := strings.TrimSpace(os.Getenv("UMA_DATA_DIR")); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, envFileName)
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default()
	cfg.DataDir = dataDir
	cfg.EnvFile = envFile
	cfg.apply(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LookupFunc resolves a variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// MapLookup adapts a map, such as the result of godotenv.Read.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// apply overlays variables onto cfg. Unparseable values are logged and
// the current value is kept.
func (c *Config) apply(lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.Trim(strings.TrimSpace(v), `'"`)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := parseDuration(v)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Ignoring invalid duration")
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Ignoring invalid boolean")
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Ignoring invalid number")
				return
			}
			*dst = f
		}
	}

	str("UMA_HOST", &c.Host)
	if v, ok := lookup("UMA_PORT"); ok && strings.TrimSpace(v) != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Port = port
		} else {
			log.Warn().Err(err).Str("value", v).Msg("Ignoring invalid UMA_PORT")
		}
	}
	boolean("UMA_USE_HTTPS", &c.UseHTTPS)
	boolean("UMA_INSECURE_SKIP_VERIFY", &c.InsecureSkipVerify)
	str("UMA_TLS_FINGERPRINT", &c.TLSFingerprint)

	dur("UMA_POLL_INTERVAL", &c.PollInterval)
	dur("UMA_COLLECTOR_REFRESH_INTERVAL", &c.CollectorRefreshInterval)
	dur("UMA_FETCH_TIMEOUT", &c.FetchTimeout)
	dur("UMA_CONNECT_TIMEOUT", &c.ConnectTimeout)
	boolean("UMA_ENABLE_WEBSOCKET", &c.EnableWebsocket)

	dur("UMA_RECONNECT_BASE", &c.ReconnectBase)
	dur("UMA_RECONNECT_MAX", &c.ReconnectMax)
	float("UMA_RECONNECT_MULTIPLIER", &c.ReconnectMultiplier)
	float("UMA_RECONNECT_JITTER", &c.ReconnectJitter)

	str("LISTEN_ADDR", &c.ListenAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_FILE", &c.LogFile)
	dur("DNS_CACHE_TTL", &c.DNSCacheTTL)
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("UMA_HOST is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("UMA_PORT %d out of range", c.Port))
	}
	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("UMA_POLL_INTERVAL must be at least 1s, got %s", c.PollInterval))
	}
	if c.CollectorRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("UMA_COLLECTOR_REFRESH_INTERVAL must be at least 1s, got %s", c.CollectorRefreshInterval))
	}
	if c.FetchTimeout <= 0 || c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		errs = append(errs, fmt.Errorf("reconnect backoff base %s must be positive and not above max %s", c.ReconnectBase, c.ReconnectMax))
	}
	if c.ReconnectMultiplier < 1 {
		errs = append(errs, fmt.Errorf("UMA_RECONNECT_MULTIPLIER must be >= 1, got %g", c.ReconnectMultiplier))
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		errs = append(errs, fmt.Errorf("UMA_RECONNECT_JITTER must be within [0,1), got %g", c.ReconnectJitter))
	}
	if c.TLSFingerprint != "" && !c.UseHTTPS {
		errs = append(errs, errors.New("UMA_TLS_FINGERPRINT requires UMA_USE_HTTPS"))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the REST client settings.
func (c *Config) ClientConfig() unraid.ClientConfig {
	return unraid.ClientConfig{
		Host:               c.Host,
		Port:               c.Port,
		UseHTTPS:           c.UseHTTPS,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Fingerprint:        c.TLSFingerprint,
		Timeout:            c.FetchTimeout,
	}
}

// Redacted returns the settings as a flat map with the TLS fingerprint
// masked, for diagnostics.
func (c *Config) Redacted() map[string]any {
	fingerprint := ""
	if c.TLSFingerprint != "" {
		fingerprint = "********"
	}
	return map[string]any{
		"host":                       c.Host,
		"port":                       c.Port,
		"use_https":                  c.UseHTTPS,
		"insecure_skip_verify":       c.InsecureSkipVerify,
		"tls_fingerprint":            fingerprint,
		"poll_interval":              c.PollInterval.String(),
		"collector_refresh_interval": c.CollectorRefreshInterval.String(),
		"fetch_timeout":              c.FetchTimeout.String(),
		"connect_timeout":            c.ConnectTimeout.String(),
		"enable_websocket":           c.EnableWebsocket,
		"reconnect_base":             c.ReconnectBase.String(),
		"reconnect_max":              c.ReconnectMax.String(),
		"reconnect_multiplier":       c.ReconnectMultiplier,
		"reconnect_jitter":           c.ReconnectJitter,
		"log_level":                  c.LogLevel,
	}
}
