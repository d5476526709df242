package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "CRITIDX"

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind CLI flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("index.max_level", d.Index.MaxLevel)
	v.SetDefault("index.max_combinations", d.Index.MaxCombinations)
	v.SetDefault("ratify.workers", d.Ratify.Workers)
	v.SetDefault("ratify.sample_capacity", d.Ratify.SampleCapacity)
	v.SetDefault("snapshot.compression", d.Snapshot.Compression)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	return Load(New(), configPath)
}

// Load reads configPath (when set) into v and decodes the result.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MetricsPort:    v.GetInt("server.metrics_port"),
			MaxConnections: v.GetInt("server.max_connections"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Index: IndexConfig{
			MaxLevel:        v.GetInt("index.max_level"),
			MaxCombinations: v.GetInt("index.max_combinations"),
		},
		Ratify: RatifyConfig{
			Workers:        v.GetInt("ratify.workers"),
			SampleCapacity: v.GetInt("ratify.sample_capacity"),
		},
		Snapshot: SnapshotConfig{
			Compression: strings.ToLower(v.GetString("snapshot.compression")),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig checks ranges of every section and reports the first
// failing key.
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: %v fails %s=%s", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
// Only the config file is inspected; CRITIDX_HMAC_SECRET in the environment
// is the supported source.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use CRITIDX_HMAC_SECRET environment variable)")
	}
	return nil
}
