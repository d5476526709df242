// Package config provides configuration management for critidx services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solatis/critidx/internal/engine"
)

// ServerConfig holds configuration for the gRPC index service.
type ServerConfig struct {
	Host           string        `validate:"required"`
	Port           int           `validate:"min=1,max=65535"`
	MetricsPort    int           `validate:"min=0,max=65535"`
	MaxConnections int           `validate:"min=1"`
	RequestTimeout time.Duration `validate:"gt=0"`
}

// IndexConfig bounds index generation.
type IndexConfig struct {
	MaxLevel        int `validate:"min=1,max=16"`
	MaxCombinations int `validate:"min=1,max=65536"`
}

// RatifyConfig bounds ratification runs.
type RatifyConfig struct {
	Workers        int `validate:"min=1,max=1024"`
	SampleCapacity int `validate:"min=0,max=65536"`
}

// SnapshotConfig selects the codec for persisted snapshots.
type SnapshotConfig struct {
	Compression string `validate:"oneof=none lz4 zstd"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Index    IndexConfig
	Ratify   RatifyConfig
	Snapshot SnapshotConfig
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	eng := engine.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MetricsPort:    9090,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
		},
		Index: IndexConfig{
			MaxLevel:        eng.MaxLevel,
			MaxCombinations: eng.MaxCombinations,
		},
		Ratify: RatifyConfig{
			Workers:        eng.RatifyWorkers,
			SampleCapacity: eng.SampleCapacity,
		},
		Snapshot: SnapshotConfig{Compression: "zstd"},
	}
}

// EngineOptions converts the index and ratify sections into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		MaxLevel:        c.Index.MaxLevel,
		MaxCombinations: c.Index.MaxCombinations,
		RatifyWorkers:   c.Ratify.Workers,
		SampleCapacity:  c.Ratify.SampleCapacity,
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports CRITIDX_HMAC_SECRET (single) and CRITIDX_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check CRITIDX_HMAC_SECRET and CRITIDX_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("CRITIDX_HMAC_SECRET"); val != "" {
		if err := add("CRITIDX_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		key := fmt.Sprintf("CRITIDX_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes base64-encoded HMAC secret from environment variable.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	id, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	if len(id) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(encoded)
	if err != nil {
		return "", nil, err
	}
	return id, secret, nil
}
