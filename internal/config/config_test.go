// Copyright 2025 James Ross
package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Canary.AnalysisSamples != 3 {
		t.Fatalf("expected default analysis samples 3, got %d", cfg.Canary.AnalysisSamples)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Observability.MetricsPort = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for metrics_port out of range")
	}
	cfg = defaultConfig()
	cfg.Canary.InitialPercent = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for canary.initial_percent out of range")
	}
	cfg = defaultConfig()
	cfg.Rollback.ConsecutiveBadThreshold = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for rollback.consecutive_bad_threshold < 1")
	}
	cfg = defaultConfig()
	cfg.PlanExecutor.MaxConcurrentPlans = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for plan_executor.max_concurrent_plans < 1")
	}
}
