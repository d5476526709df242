package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/solatis/critidx/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "critidx.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// Flags beat the environment, the environment beats the file, the file
// beats defaults; the resolved index settings reach the engine.
func TestLoad_Layering(t *testing.T) {
	path := writeConfig(t, `server:
  port: 6000
index:
  max_level: 3
  max_combinations: 64
snapshot:
  compression: none
`)
	t.Setenv("CRITIDX_SERVER_PORT", "6500")
	t.Setenv("CRITIDX_INDEX_MAX_COMBINATIONS", "128")
	t.Setenv("CRITIDX_SNAPSHOT_COMPRESSION", "ZSTD")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.Int("port", 50051, "")
	if err := flags.Parse([]string{"--port", "7000"}); err != nil {
		t.Fatal(err)
	}
	v := New()
	if err := v.BindPFlag("server.port", flags.Lookup("port")); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(v, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port = %d, want 7000 from flag", cfg.Server.Port)
	}
	if cfg.Index.MaxLevel != 3 {
		t.Errorf("max_level = %d, want 3 from file", cfg.Index.MaxLevel)
	}
	if cfg.Index.MaxCombinations != 128 {
		t.Errorf("max_combinations = %d, want 128 from environment", cfg.Index.MaxCombinations)
	}
	if cfg.Snapshot.Compression != "zstd" {
		t.Errorf("compression = %q, want zstd from environment", cfg.Snapshot.Compression)
	}
	if cfg.Ratify.Workers != engine.DefaultOptions().RatifyWorkers {
		t.Errorf("workers = %d, want default", cfg.Ratify.Workers)
	}

	m, err := engine.New(engine.WithOptions(cfg.EngineOptions()))
	if err != nil {
		t.Fatalf("engine.New rejected loaded options: %v", err)
	}
	if got := m.Options(); got.MaxLevel != 3 || got.MaxCombinations != 128 {
		t.Errorf("engine options = %+v, want max_level 3 and max_combinations 128", got)
	}
}

// Invalid index and snapshot settings fail loading with the offending key,
// whether they come from the file or the environment.
func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "max_level zero in file",
			file:    "index:\n  max_level: 0\n",
			wantErr: "Config.Index.MaxLevel",
		},
		{
			name:    "max_level above 16 from environment",
			env:     map[string]string{"CRITIDX_INDEX_MAX_LEVEL": "32"},
			wantErr: "Config.Index.MaxLevel",
		},
		{
			name:    "max_combinations above cap in file",
			file:    "index:\n  max_combinations: 100000\n",
			wantErr: "Config.Index.MaxCombinations",
		},
		{
			name:    "negative max_combinations from environment",
			env:     map[string]string{"CRITIDX_INDEX_MAX_COMBINATIONS": "-4"},
			wantErr: "Config.Index.MaxCombinations",
		},
		{
			name:    "unknown compression in file",
			file:    "snapshot:\n  compression: brotli\n",
			wantErr: "Config.Snapshot.Compression",
		},
		{
			name:    "environment compression overrides a valid file",
			file:    "snapshot:\n  compression: lz4\n",
			env:     map[string]string{"CRITIDX_SNAPSHOT_COMPRESSION": "snappy"},
			wantErr: "Config.Snapshot.Compression",
		},
		{
			name:    "hmac secret in file",
			file:    "server:\n  hmac_secret: should_be_rejected\n",
			wantErr: "HMAC secrets not allowed in config files",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("LoadConfig succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
