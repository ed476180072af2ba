package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty page url",
			mutate: func(cfg *Config) {
				cfg.PageURL = ""
			},
			wantErr: "page URL",
		},
		{
			name: "page url without host",
			mutate: func(cfg *Config) {
				cfg.PageURL = "http://"
			},
			wantErr: "page URL",
		},
		{
			name: "empty output root",
			mutate: func(cfg *Config) {
				cfg.OutputRoot = ""
			},
			wantErr: "output root",
		},
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "zero timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = 0 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "empty notebook prefix",
			mutate: func(cfg *Config) {
				cfg.NotebookPrefix = ""
			},
			wantErr: "notebook prefix",
		},
		{
			name: "zero pipeline buffer",
			mutate: func(cfg *Config) {
				cfg.PipelineBuffer = 0
			},
			wantErr: "pipeline buffer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("MIRROR_TEST_INT", "12")
	value, ok, err := EnvInt("MIRROR_TEST_INT")
	if err != nil || !ok || value != 12 {
		t.Fatalf("EnvInt = (%d, %v, %v), want (12, true, nil)", value, ok, err)
	}

	t.Setenv("MIRROR_TEST_INT", "nope")
	if _, _, err := EnvInt("MIRROR_TEST_INT"); err == nil {
		t.Fatalf("expected parse error for non-numeric value")
	}

	if _, ok, _ := EnvInt("MIRROR_TEST_INT_UNSET"); ok {
		t.Fatalf("unset variable should not report a value")
	}
}
