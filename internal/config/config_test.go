package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avsync/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatalf("expected missing config file, got exists=true for %s", resolved)
	}
	if cfg.Sync.MaxIterations != 10 {
		t.Fatalf("expected default max_iterations 10, got %d", cfg.Sync.MaxIterations)
	}
	if cfg.Sync.OffsetToleranceMs != 10 {
		t.Fatalf("expected default offset_tolerance_ms 10, got %d", cfg.Sync.OffsetToleranceMs)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
work_dir = "` + filepath.Join(dir, "work") + `"
output_dir = "` + filepath.Join(dir, "output") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[sync]
max_iterations = 4
offset_tolerance_ms = 25

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Sync.MaxIterations != 4 {
		t.Fatalf("expected max_iterations 4, got %d", cfg.Sync.MaxIterations)
	}
	if cfg.Sync.OffsetToleranceMs != 25 {
		t.Fatalf("expected offset_tolerance_ms 25, got %d", cfg.Sync.OffsetToleranceMs)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format json, got %q", cfg.Logging.Format)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("expected absolute staging dir, got %q", cfg.Paths.StagingDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "zero iterations",
			mutate:  func(c *config.Config) { c.Sync.MaxIterations = 0 },
			wantSub: "max_iterations",
		},
		{
			name:    "negative tolerance",
			mutate:  func(c *config.Config) { c.Sync.OffsetToleranceMs = -1 },
			wantSub: "offset_tolerance_ms",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "yaml" },
			wantSub: "logging.format",
		},
		{
			name: "staging equals output",
			mutate: func(c *config.Config) {
				c.Paths.OutputDir = c.Paths.StagingDir
			},
			wantSub: "must differ",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StagingDir = "/tmp/avsync-test/staging"
			cfg.Paths.WorkDir = "/tmp/avsync-test/work"
			cfg.Paths.OutputDir = "/tmp/avsync-test/output"
			cfg.Logging.Format = "console"
			cfg.Logging.Level = "info"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantSub, err)
			}
		})
	}
}

func TestCreateSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	if err := config.CreateSample(path); err == nil {
		t.Fatal("expected error when sample already exists")
	}
}
