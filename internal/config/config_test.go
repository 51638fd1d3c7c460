package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	if cfg.MaxConnections != 7 || cfg.UpdateRateHz != 30 {
		t.Fatalf("unexpected capacity/rate defaults: %+v", cfg)
	}
	if cfg.IdleInterval != 500*time.Millisecond || cfg.RosterInterval != 5*time.Second {
		t.Fatalf("unexpected interval defaults: %+v", cfg)
	}
	if cfg.Reconcile.IdleSnapAfter != 200*time.Millisecond || cfg.Reconcile.JumpRise != 0.1 || cfg.Reconcile.JumpFall != 0.05 {
		t.Fatalf("unexpected reconcile defaults: %+v", cfg.Reconcile)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netplay.yaml")
	content := `
nickname: Alice
maxConnections: 3
idleInterval: 250ms
reconcile:
  jumpRise: 0.2
logging:
  enabledSinks: [memory]
  minimumSeverity: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Nickname != "Alice" || cfg.MaxConnections != 3 || cfg.IdleInterval != 250*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Reconcile.JumpRise != 0.2 || cfg.Reconcile.JumpFall != 0.05 {
		t.Fatalf("expected partial reconcile override, got %+v", cfg.Reconcile)
	}
	if !cfg.Logging.HasSink("memory") || cfg.Logging.MinimumSeverity != logging.SeverityWarn {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.UpdateRateHz != 30 {
		t.Fatalf("expected untouched defaults to survive, got %v", cfg.UpdateRateHz)
	}
	if got := cfg.ReconcileSettings().JumpRise; got != 0.2 {
		t.Fatalf("expected reconcile settings to carry jumpRise, got %v", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netplay.yaml")
	os.WriteFile(path, []byte("maxConnections: 0\n"), 0o600)
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"NETPLAY_NICKNAME":          "Bob",
		"NETPLAY_MAX_CONNECTIONS":   "2",
		"NETPLAY_UPDATE_RATE_HZ":    "60",
		"NETPLAY_MIGRATION_STAGGER": "1s",
		"NETPLAY_LEASE_TTL":         "nope",
		"NETPLAY_ROSTER_INTERVAL":   "-1s",
	}
	var logged []string
	logger := telemetry.LoggerFunc(func(format string, args ...any) {
		logged = append(logged, format)
	})

	cfg := ApplyEnv(Default(), func(key string) string { return env[key] }, logger)
	if cfg.Nickname != "Bob" || cfg.MaxConnections != 2 || cfg.UpdateRateHz != 60 || cfg.MigrationStagger != time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.LeaseTTL != 10*time.Second || cfg.RosterInterval != 5*time.Second {
		t.Fatalf("expected invalid values to be ignored: %+v", cfg)
	}
	if len(logged) != 2 || !strings.Contains(logged[0], "invalid") {
		t.Fatalf("expected two invalid value warnings, got %v", logged)
	}
	if got := cfg.Schedule().Interval(); got != time.Second/60 {
		t.Fatalf("expected 60Hz schedule interval, got %v", got)
	}
}
