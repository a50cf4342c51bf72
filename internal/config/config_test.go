package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/voltdesk/dispatch-backend/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Battery.PMax != 5.0 {
		t.Errorf("Battery.PMax = %v, want 5.0", cfg.Battery.PMax)
	}
	if cfg.Optimizer.PopulationSize != 40 {
		t.Errorf("Optimizer.PopulationSize = %d, want 40", cfg.Optimizer.PopulationSize)
	}
	if cfg.HMM.Tolerance != 1e-4 {
		t.Errorf("HMM.Tolerance = %v, want 1e-4", cfg.HMM.Tolerance)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
server:
  port: 9000
battery:
  pMax: 12.5
  socMin: 2
  socMax: 50
  efficiency: 0.85
  initialSoc: 25
optimizer:
  population_size: 64
log_level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Battery.PMax != 12.5 {
		t.Errorf("Battery.PMax = %v, want 12.5", cfg.Battery.PMax)
	}
	if cfg.Optimizer.PopulationSize != 64 {
		t.Errorf("Optimizer.PopulationSize = %d, want 64", cfg.Optimizer.PopulationSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Optimizer.MaxGenerations != 150 {
		t.Errorf("Optimizer.MaxGenerations = %d, want 150", cfg.Optimizer.MaxGenerations)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidBattery(t *testing.T) {
	yaml := `
battery:
  pMax: 5
  socMin: 20
  socMax: 20
  efficiency: 0.9
  initialSoc: 20
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for degenerate SoC window")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
