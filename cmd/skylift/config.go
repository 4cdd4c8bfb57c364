package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all deployer configuration.
type Config struct {
	AWS       AWSConfig        `mapstructure:"aws"`
	Function  FunctionConfig   `mapstructure:"function"`
	Layers    []LayerConfig    `mapstructure:"layers"`
	Build     BuildConfig      `mapstructure:"build"`
	API       APIConfig        `mapstructure:"api"`
	Plan      PlanConfig       `mapstructure:"plan"`
	Throttles []ThrottleConfig `mapstructure:"throttles"`
	Domain    DomainConfig     `mapstructure:"domain"`
	Artifact  ArtifactConfig   `mapstructure:"artifact"`
	State     StateConfig      `mapstructure:"state"`
	Log       LogConfig        `mapstructure:"log"`
}

// AWSConfig holds provider credentials and targeting.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// FunctionConfig holds the desired compute target configuration.
type FunctionConfig struct {
	Name         string            `mapstructure:"name"`
	Runtime      string            `mapstructure:"runtime"`
	Handler      string            `mapstructure:"handler"`
	MemoryMB     int32             `mapstructure:"memory_mb"`
	TimeoutSec   int32             `mapstructure:"timeout_sec"`
	RoleARN      string            `mapstructure:"role_arn"`
	SourceDir    string            `mapstructure:"source_dir"`
	Env          map[string]string `mapstructure:"env"`
	UpdatePolicy string            `mapstructure:"update_policy"`
}

// LayerConfig names one dependency layer and its requirements file.
type LayerConfig struct {
	Name         string `mapstructure:"name"`
	Requirements string `mapstructure:"requirements"`
}

// BuildConfig holds layer build settings.
type BuildConfig struct {
	// Image is the runtime-matched container image dependency installs
	// run in.
	Image string `mapstructure:"image"`
}

// APIConfig holds the front-door configuration.
type APIConfig struct {
	// Manifest is the OpenAPI document the route tree is derived from.
	Manifest string     `mapstructure:"manifest"`
	Stage    string     `mapstructure:"stage"`
	CORS     CORSConfig `mapstructure:"cors"`
}

// CORSConfig holds the cross-origin response policy.
type CORSConfig struct {
	AllowOrigin  string   `mapstructure:"allow_origin"`
	AllowHeaders []string `mapstructure:"allow_headers"`
}

// PlanConfig holds usage plan and key settings.
type PlanConfig struct {
	Name        string  `mapstructure:"name"`
	KeyName     string  `mapstructure:"key_name"`
	BurstLimit  int32   `mapstructure:"burst_limit"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	QuotaLimit  int32   `mapstructure:"quota_limit"`
	QuotaPeriod string  `mapstructure:"quota_period"`
}

// ThrottleConfig is one per-method throttle override.
type ThrottleConfig struct {
	Path       string  `mapstructure:"path"`
	Verb       string  `mapstructure:"verb"`
	BurstLimit int32   `mapstructure:"burst_limit"`
	RateLimit  float64 `mapstructure:"rate_limit"`
}

// DomainConfig holds the optional custom domain binding. An empty name
// means no binding.
type DomainConfig struct {
	Name           string `mapstructure:"name"`
	CertificateARN string `mapstructure:"certificate_arn"`
	BasePath       string `mapstructure:"base_path"`
}

// ArtifactConfig holds the bundle store settings for code too large to
// ship inline.
type ArtifactConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// StateConfig holds the local state database settings.
type StateConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("function.runtime", "python3.12")
	v.SetDefault("function.memory_mb", 512)
	v.SetDefault("function.timeout_sec", 30)
	v.SetDefault("function.source_dir", ".")
	v.SetDefault("function.update_policy", "in_place")
	v.SetDefault("build.image", "public.ecr.aws/lambda/python:3.12")
	v.SetDefault("api.stage", "prod")
	v.SetDefault("api.cors.allow_origin", "*")
	v.SetDefault("api.cors.allow_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("plan.burst_limit", 20)
	v.SetDefault("plan.rate_limit", 10.0)
	v.SetDefault("plan.quota_limit", 5000)
	v.SetDefault("plan.quota_period", "DAY")
	v.SetDefault("state.dsn", "./data/skylift.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SKYLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Derived defaults that depend on other fields.
	if cfg.Plan.Name == "" {
		cfg.Plan.Name = cfg.Function.Name + "-plan"
	}
	if cfg.Plan.KeyName == "" {
		cfg.Plan.KeyName = cfg.Function.Name + "-key"
	}

	return &cfg, nil
}

// Validate checks the settings the deployer cannot proceed without.
// The function spec itself is validated again at the planning stage.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws.region is required")
	}
	if c.AWS.AccountID == "" {
		return fmt.Errorf("aws.account_id is required")
	}
	if c.Function.Name == "" {
		return fmt.Errorf("function.name is required")
	}
	if c.API.Manifest == "" {
		return fmt.Errorf("api.manifest is required")
	}
	if _, err := domain.ParseUpdatePolicy(c.Function.UpdatePolicy); err != nil {
		return fmt.Errorf("function.update_policy: %w", err)
	}
	return nil
}

// DesiredState freezes the configuration into a run state. Routes are
// loaded separately from the manifest.
func (c *Config) DesiredState(routes []domain.RouteSpec) *domain.DeploymentState {
	st := domain.NewDeploymentState()
	st.Function = domain.FunctionSpec{
		Name:       c.Function.Name,
		Runtime:    c.Function.Runtime,
		Handler:    c.Function.Handler,
		MemoryMB:   c.Function.MemoryMB,
		TimeoutSec: c.Function.TimeoutSec,
		RoleARN:    c.Function.RoleARN,
		Env:        c.Function.Env,
	}
	st.Routes = routes
	st.CORS = domain.CORSConfig{
		AllowOrigin:  c.API.CORS.AllowOrigin,
		AllowHeaders: c.API.CORS.AllowHeaders,
	}
	st.Plan = domain.UsagePlanSpec{
		Name:        c.Plan.Name,
		BurstLimit:  c.Plan.BurstLimit,
		RateLimit:   c.Plan.RateLimit,
		QuotaLimit:  c.Plan.QuotaLimit,
		QuotaPeriod: c.Plan.QuotaPeriod,
	}
	st.Key = domain.APIKeySpec{Name: c.Plan.KeyName}
	for _, t := range c.Throttles {
		st.Throttles = append(st.Throttles, domain.MethodThrottle{
			Path:       t.Path,
			Verb:       t.Verb,
			BurstLimit: t.BurstLimit,
			RateLimit:  t.RateLimit,
		})
	}
	if c.Domain.Name != "" {
		st.Binding = &domain.DomainBindingSpec{
			DomainName:     c.Domain.Name,
			CertificateARN: c.Domain.CertificateARN,
			BasePath:       c.Domain.BasePath,
		}
	}
	st.Stage = c.API.Stage
	return st
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
