package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/solatis/segmentkeeper/internal/estimate"
	"github.com/solatis/segmentkeeper/internal/types"
)

// EnvPrefix prefixes every environment variable, e.g. SK_SEGMENT_API_PORT.
const EnvPrefix = "SK"

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned struct.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultServiceConfig())

	// Bind environment variables with SK_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Credentials must come from the environment, never from a config file
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{
		SegmentAPI: SegmentAPIConfig{
			Host:             v.GetString("segment_api.host"),
			Port:             v.GetInt("segment_api.port"),
			HealthPort:       v.GetInt("segment_api.health_port"),
			RequestTimeout:   v.GetDuration("segment_api.request_timeout"),
			MaxBodyBytes:     v.GetInt64("segment_api.max_body_bytes"),
			DefaultWorkspace: v.GetString("segment_api.default_workspace"),
		},
		Evaluator: EvaluatorConfig{
			Timeout:      v.GetDuration("evaluator.timeout"),
			SampleSize:   v.GetInt("evaluator.sample_size"),
			RetryBackoff: v.GetDuration("evaluator.retry_backoff"),
		},
		Reestimate: ReestimateConfig{
			Schedule:    v.GetString("reestimate.schedule"),
			Concurrency: v.GetInt("reestimate.concurrency"),
		},
		Contacts: ContactsConfig{
			Backend: v.GetString("contacts.backend"),
			File:    v.GetString("contacts.file"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *ServiceConfig) {
	v.SetDefault("segment_api.host", d.SegmentAPI.Host)
	v.SetDefault("segment_api.port", d.SegmentAPI.Port)
	v.SetDefault("segment_api.health_port", d.SegmentAPI.HealthPort)
	v.SetDefault("segment_api.request_timeout", d.SegmentAPI.RequestTimeout.String())
	v.SetDefault("segment_api.max_body_bytes", d.SegmentAPI.MaxBodyBytes)
	v.SetDefault("segment_api.default_workspace", d.SegmentAPI.DefaultWorkspace)
	v.SetDefault("evaluator.timeout", d.Evaluator.Timeout.String())
	v.SetDefault("evaluator.sample_size", d.Evaluator.SampleSize)
	v.SetDefault("evaluator.retry_backoff", d.Evaluator.RetryBackoff.String())
	v.SetDefault("reestimate.schedule", d.Reestimate.Schedule)
	v.SetDefault("reestimate.concurrency", d.Reestimate.Concurrency)
	v.SetDefault("contacts.backend", d.Contacts.Backend)
	v.SetDefault("contacts.file", d.Contacts.File)
	v.SetDefault("database.url", d.Database.URL)
}

// Validate checks ranges and enumerations. Called by LoadConfig and again
// by commands after CLI flags are applied.
func Validate(cfg *ServiceConfig) error {
	api := cfg.SegmentAPI
	if api.Port <= 0 || api.Port > 65535 {
		return fmt.Errorf("segment_api.port must be between 1 and 65535, got %d", api.Port)
	}
	if api.HealthPort < 0 || api.HealthPort > 65535 {
		return fmt.Errorf("segment_api.health_port must be between 0 and 65535, got %d", api.HealthPort)
	}
	if api.HealthPort != 0 && api.HealthPort == api.Port {
		return fmt.Errorf("segment_api.health_port must differ from segment_api.port")
	}
	if api.RequestTimeout <= 0 {
		return fmt.Errorf("segment_api.request_timeout must be positive, got %v", api.RequestTimeout)
	}
	if api.MaxBodyBytes <= 0 {
		return fmt.Errorf("segment_api.max_body_bytes must be positive, got %d", api.MaxBodyBytes)
	}
	if strings.TrimSpace(api.DefaultWorkspace) == "" {
		return fmt.Errorf("segment_api.default_workspace must not be empty")
	}

	ev := cfg.Evaluator
	if ev.Timeout <= 0 {
		return fmt.Errorf("evaluator.timeout must be positive, got %v", ev.Timeout)
	}
	if ev.SampleSize < 0 || ev.SampleSize > types.MaxSampleSize {
		return fmt.Errorf("evaluator.sample_size must be between 0 and %d, got %d", types.MaxSampleSize, ev.SampleSize)
	}
	if ev.RetryBackoff < 0 {
		return fmt.Errorf("evaluator.retry_backoff must not be negative, got %v", ev.RetryBackoff)
	}

	if err := estimate.ValidateSchedule(cfg.Reestimate.Schedule); err != nil {
		return fmt.Errorf("reestimate.schedule: %w", err)
	}
	if cfg.Reestimate.Concurrency <= 0 {
		return fmt.Errorf("reestimate.concurrency must be positive, got %d", cfg.Reestimate.Concurrency)
	}

	switch cfg.Contacts.Backend {
	case ContactsSQL, ContactsMemory:
	default:
		return fmt.Errorf("contacts.backend must be %q or %q, got %q", ContactsSQL, ContactsMemory, cfg.Contacts.Backend)
	}
	return nil
}

// validateNoSecretsInConfig rejects database passwords in config files.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if !v.InConfig("database.url") {
		return nil
	}
	u, err := url.Parse(v.GetString("database.url"))
	if err != nil || u.User == nil {
		return nil
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return fmt.Errorf("database passwords not allowed in config files (use SK_DATABASE_URL environment variable)")
	}
	return nil
}
