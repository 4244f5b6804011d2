package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "archive-probe" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ProbeInterval != 5*time.Minute {
		t.Fatalf("unexpected probe interval %v", cfg.ProbeInterval)
	}
	if cfg.StorageTTL != 7*24*time.Hour || cfg.StorageCleanupInterval != 12*time.Hour {
		t.Fatalf("unexpected storage retention %v / %v", cfg.StorageTTL, cfg.StorageCleanupInterval)
	}
	if cfg.PublishersFile != "" || cfg.RunOnce {
		t.Fatalf("expected no publishers and continuous mode by default, got %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROBE_INTERVAL", "30")
	t.Setenv("RUN_ONCE", "true")
	t.Setenv("STORAGE_TYPE", "none")
	t.Setenv("TARGETS_FILE", "/etc/probe/targets.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProbeInterval != 30*time.Second || !cfg.RunOnce {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.StorageType != "none" || cfg.TargetsFile != "/etc/probe/targets.json" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	for _, key := range []string{"PROBE_INTERVAL", "STORAGE_TTL_SECONDS", "STORAGE_CLEANUP_INTERVAL_SECONDS"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "0")
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=0", key)
			}
		})
	}
}
