package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"basketpool/observability/logging"
)

const (
	envListen        = "POOLD_LISTEN"
	envGenesis       = "POOLD_GENESIS"
	envEnvironment   = "POOLD_ENV"
	envJWTSecret     = "POOLD_JWT_SECRET"
	envJWTIssuer     = "POOLD_JWT_ISSUER"
	envAuditDSN      = "POOLD_AUDIT_DSN"
	envRatePerMin    = "POOLD_RATE_PER_MIN"
	envRateBurst     = "POOLD_RATE_BURST"
	envLogLevel      = "POOLD_LOG_LEVEL"
	envLogFile       = "POOLD_LOG_FILE"
	envWebhookURL    = "POOLD_WEBHOOK_URL"
	envWebhookSecret = "POOLD_WEBHOOK_SECRET"
	envOTLPEndpoint  = "POOLD_OTLP_ENDPOINT"
	envOTLPHeaders   = "POOLD_OTLP_HEADERS"
	envTimeUnit      = "POOLD_TIME_UNIT"

	defaultListen     = ":8480"
	defaultGenesis    = "./pool.toml"
	defaultRatePerMin = 600
	defaultRateBurst  = 60
	defaultTimeUnit   = time.Second
	defaultStreamBuf  = 128
	minSecretLength   = 16
)

// Config captures the runtime settings for poold.
type Config struct {
	Listen         string                `yaml:"listen"`
	Environment    string                `yaml:"environment"`
	Genesis        string                `yaml:"genesis"`
	TimeUnit       time.Duration         `yaml:"time_unit"`
	Auth           AuthConfig            `yaml:"auth"`
	RateLimit      RateLimitConfig       `yaml:"rate_limit"`
	Audit          AuditConfig           `yaml:"audit"`
	Webhook        WebhookConfig         `yaml:"webhook"`
	Log            LogConfig             `yaml:"log"`
	Telemetry      TelemetryConfig       `yaml:"telemetry"`
	Stream         StreamConfig          `yaml:"stream"`
	FlashReceivers []FlashReceiverConfig `yaml:"flash_receivers"`
}

// AuthConfig describes how bearer tokens are verified. The token subject is
// the caller's address.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	MaxSkew       time.Duration `yaml:"max_skew"`
	AnonymousRead bool          `yaml:"anonymous_read"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuditConfig selects the event audit store. An empty DSN disables it.
type AuditConfig struct {
	DSN string `yaml:"dsn"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`
}

type StreamConfig struct {
	Buffer int `yaml:"buffer"`
}

// FlashReceiverConfig registers an in-process flash receiver that repays
// principal plus fee from Account's own balances.
type FlashReceiverConfig struct {
	Name    string `yaml:"name"`
	Account string `yaml:"account"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Listen:    defaultListen,
		Genesis:   defaultGenesis,
		TimeUnit:  defaultTimeUnit,
		RateLimit: RateLimitConfig{RequestsPerMinute: defaultRatePerMin, Burst: defaultRateBurst},
		Auth:      AuthConfig{MaxSkew: 30 * time.Second, AnonymousRead: true},
		Log:       LogConfig{Level: "info"},
		Stream:    StreamConfig{Buffer: defaultStreamBuf},
	}
}

// Load reads the YAML file at path, when given, then applies POOLD_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	setString(&cfg.Listen, envListen)
	setString(&cfg.Genesis, envGenesis)
	setString(&cfg.Environment, envEnvironment)
	setString(&cfg.Auth.JWTSecret, envJWTSecret)
	setString(&cfg.Auth.Issuer, envJWTIssuer)
	setString(&cfg.Audit.DSN, envAuditDSN)
	setString(&cfg.Log.Level, envLogLevel)
	setString(&cfg.Log.File, envLogFile)
	setString(&cfg.Webhook.URL, envWebhookURL)
	setString(&cfg.Webhook.Secret, envWebhookSecret)
	setString(&cfg.Telemetry.Headers, envOTLPHeaders)
	if v := strings.TrimSpace(os.Getenv(envOTLPEndpoint)); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Traces = true
		cfg.Telemetry.Metrics = true
	}
	if v := strings.TrimSpace(os.Getenv(envRatePerMin)); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envRatePerMin, err)
		}
		cfg.RateLimit.RequestsPerMinute = parsed
	}
	if v := strings.TrimSpace(os.Getenv(envRateBurst)); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRateBurst, err)
		}
		cfg.RateLimit.Burst = parsed
	}
	if v := strings.TrimSpace(os.Getenv(envTimeUnit)); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTimeUnit, err)
		}
		cfg.TimeUnit = parsed
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (cfg *Config) normalize() {
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	if cfg.Genesis == "" {
		cfg.Genesis = defaultGenesis
	}
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = defaultTimeUnit
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = defaultStreamBuf
	}
	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	receivers := cfg.FlashReceivers[:0]
	for _, r := range cfg.FlashReceivers {
		r.Name = strings.TrimSpace(r.Name)
		r.Account = strings.TrimSpace(r.Account)
		if r.Name != "" || r.Account != "" {
			receivers = append(receivers, r)
		}
	}
	cfg.FlashReceivers = receivers
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	var errs []error
	if len(cfg.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters", minSecretLength))
	}
	if cfg.TimeUnit < 0 {
		errs = append(errs, errors.New("time_unit must be positive"))
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must be non-negative"))
	}
	if cfg.Webhook.URL != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		errs = append(errs, errors.New("webhook.secret required when webhook.url is set"))
	}
	seen := make(map[string]struct{}, len(cfg.FlashReceivers))
	for i, r := range cfg.FlashReceivers {
		if r.Name == "" || r.Account == "" {
			errs = append(errs, fmt.Errorf("flash_receivers[%d]: name and account required", i))
			continue
		}
		if _, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("flash_receivers[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Auth.JWTSecret = logging.MaskValue(clone.Auth.JWTSecret)
	clone.Webhook.Secret = logging.MaskValue(clone.Webhook.Secret)
	clone.Audit.DSN = logging.MaskDSN(clone.Audit.DSN)
	if clone.Telemetry.Headers != "" {
		clone.Telemetry.Headers = logging.RedactedValue
	}
	clone.FlashReceivers = append([]FlashReceiverConfig(nil), cfg.FlashReceivers...)
	return clone
}
