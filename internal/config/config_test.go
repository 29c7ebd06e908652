package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcesFile != "./configs/sources.yaml" {
		t.Fatalf("unexpected sources file %q", cfg.SourcesFile)
	}
	if cfg.StorageType != "json" {
		t.Fatalf("unexpected storage type %q", cfg.StorageType)
	}
	if cfg.WorkerCount != 5 || cfg.Tick != 10*time.Second || cfg.ShutdownTimeout != time.Minute {
		t.Fatalf("unexpected scheduling defaults: %+v", cfg)
	}
	if cfg.RunOnce {
		t.Fatal("run_once should default to false")
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--sources", "/etc/feeds.json", "--once", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourcesFile != "/etc/feeds.json" {
		t.Fatalf("expected flag sources path, got %q", cfg.SourcesFile)
	}
	if !cfg.RunOnce {
		t.Fatal("expected --once to set run_once")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "BBOLT")
	t.Setenv("WORKER_COUNT", "2")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageType != "bbolt" {
		t.Fatalf("expected bbolt storage, got %q", cfg.StorageType)
	}
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.WorkerCount)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		env, val, wantErr string
	}{
		{"STORAGE_TYPE", "redis", "storage_type"},
		{"WORKER_COUNT", "0", "worker_count"},
		{"TICK_SECONDS", "-1", "tick_seconds"},
		{"SHUTDOWN_TIMEOUT_SECONDS", "0", "shutdown_timeout_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := Load(nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %s error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadUnknownFlag(t *testing.T) {
	if _, err := Load([]string{"--nope"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}
