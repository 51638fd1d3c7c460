// Package config holds the tunables of a netplay peer. Values come from the
// defaults, then an optional YAML file, then NETPLAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bartektricks/noob-skater-sub000/internal/reconcile"
	"github.com/bartektricks/noob-skater-sub000/internal/schedule"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
)

type Config struct {
	Nickname      string `yaml:"nickname"`
	SignalURL     string `yaml:"signalURL"`
	ListenAddr    string `yaml:"listenAddr"`
	AdvertiseHost string `yaml:"advertiseHost"`

	MaxConnections   int           `yaml:"maxConnections"`
	UpdateRateHz     float64       `yaml:"updateRateHz"`
	IdleInterval     time.Duration `yaml:"idleInterval"`
	RosterInterval   time.Duration `yaml:"rosterInterval"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	LeaseTTL         time.Duration `yaml:"leaseTTL"`
	MigrationStagger time.Duration `yaml:"migrationStagger"`

	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ReconcileConfig is the file-facing subset of the reconciler tunables.
type ReconcileConfig struct {
	IdleSnapAfter    time.Duration `yaml:"idleSnapAfter"`
	GroundLevel      float64       `yaml:"groundLevel"`
	JumpRise         float64       `yaml:"jumpRise"`
	JumpFall         float64       `yaml:"jumpFall"`
	LandingMargin    float64       `yaml:"landingMargin"`
	LandingHold      time.Duration `yaml:"landingHold"`
	MoveThreshold    float64       `yaml:"moveThreshold"`
	HorizontalLerp   float64       `yaml:"horizontalLerp"`
	VerticalLerp     float64       `yaml:"verticalLerp"`
	FlipDuration     time.Duration `yaml:"flipDuration"`
	ReorientDuration time.Duration `yaml:"reorientDuration"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

var ErrInvalid = errors.New("config: invalid value")

func Default() Config {
	rc := reconcile.DefaultConfig()
	return Config{
		Nickname:         "skater",
		SignalURL:        "http://127.0.0.1:9420",
		ListenAddr:       "127.0.0.1:0",
		MaxConnections:   7,
		UpdateRateHz:     30,
		IdleInterval:     500 * time.Millisecond,
		RosterInterval:   5 * time.Second,
		DialTimeout:      3 * time.Second,
		LeaseTTL:         10 * time.Second,
		MigrationStagger: 750 * time.Millisecond,
		Reconcile: ReconcileConfig{
			IdleSnapAfter:    rc.IdleSnapAfter,
			GroundLevel:      rc.GroundLevel,
			JumpRise:         rc.JumpRise,
			JumpFall:         rc.JumpFall,
			LandingMargin:    rc.LandingMargin,
			LandingHold:      rc.LandingHold,
			MoveThreshold:    rc.MoveThreshold,
			HorizontalLerp:   rc.HorizontalLerp,
			VerticalLerp:     rc.VerticalLerp,
			FlipDuration:     rc.FlipDuration,
			ReorientDuration: rc.ReorientDuration,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{Namespace: "netplay"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays NETPLAY_* variables read through lookup. Values that do
// not parse are logged and ignored.
func ApplyEnv(cfg Config, lookup func(string) string, logger telemetry.Logger) Config {
	if lookup == nil {
		lookup = os.Getenv
	}
	if logger == nil {
		logger = telemetry.Discard()
	}

	if raw := lookup("NETPLAY_NICKNAME"); raw != "" {
		cfg.Nickname = raw
	}
	if raw := lookup("NETPLAY_SIGNAL_URL"); raw != "" {
		cfg.SignalURL = raw
	}
	if raw := lookup("NETPLAY_LISTEN_ADDR"); raw != "" {
		cfg.ListenAddr = raw
	}
	if raw := lookup("NETPLAY_ADVERTISE_HOST"); raw != "" {
		cfg.AdvertiseHost = raw
	}
	if raw := lookup("NETPLAY_MAX_CONNECTIONS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxConnections = value
		} else {
			logger.Printf("invalid NETPLAY_MAX_CONNECTIONS=%q: %v", raw, err)
		}
	}
	if raw := lookup("NETPLAY_UPDATE_RATE_HZ"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.UpdateRateHz = value
		} else {
			logger.Printf("invalid NETPLAY_UPDATE_RATE_HZ=%q: %v", raw, err)
		}
	}
	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"NETPLAY_IDLE_INTERVAL", &cfg.IdleInterval},
		{"NETPLAY_ROSTER_INTERVAL", &cfg.RosterInterval},
		{"NETPLAY_DIAL_TIMEOUT", &cfg.DialTimeout},
		{"NETPLAY_LEASE_TTL", &cfg.LeaseTTL},
		{"NETPLAY_MIGRATION_STAGGER", &cfg.MigrationStagger},
		{"NETPLAY_IDLE_SNAP_AFTER", &cfg.Reconcile.IdleSnapAfter},
	}
	for _, d := range durations {
		raw := lookup(d.name)
		if raw == "" {
			continue
		}
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			*d.target = value
		} else {
			logger.Printf("invalid %s=%q: %v", d.name, raw, err)
		}
	}
	return cfg
}

func (c Config) Validate() error {
	switch {
	case c.MaxConnections < 1:
		return fmt.Errorf("%w: maxConnections must be at least 1, got %d", ErrInvalid, c.MaxConnections)
	case c.UpdateRateHz <= 0:
		return fmt.Errorf("%w: updateRateHz must be positive, got %v", ErrInvalid, c.UpdateRateHz)
	case c.IdleInterval <= 0:
		return fmt.Errorf("%w: idleInterval must be positive", ErrInvalid)
	case c.RosterInterval <= 0:
		return fmt.Errorf("%w: rosterInterval must be positive", ErrInvalid)
	case c.LeaseTTL <= 0:
		return fmt.Errorf("%w: leaseTTL must be positive", ErrInvalid)
	case c.MigrationStagger < 0:
		return fmt.Errorf("%w: migrationStagger must not be negative", ErrInvalid)
	}
	return nil
}

func (c Config) Schedule() schedule.Config {
	cfg := schedule.DefaultConfig()
	cfg.UpdateRateHz = c.UpdateRateHz
	cfg.IdleInterval = c.IdleInterval
	return cfg
}

func (c Config) ReconcileSettings() reconcile.Config {
	cfg := reconcile.DefaultConfig()
	r := c.Reconcile
	cfg.IdleSnapAfter = r.IdleSnapAfter
	cfg.GroundLevel = r.GroundLevel
	cfg.JumpRise = r.JumpRise
	cfg.JumpFall = r.JumpFall
	cfg.LandingMargin = r.LandingMargin
	cfg.LandingHold = r.LandingHold
	cfg.MoveThreshold = r.MoveThreshold
	cfg.HorizontalLerp = r.HorizontalLerp
	cfg.VerticalLerp = r.VerticalLerp
	cfg.FlipDuration = r.FlipDuration
	cfg.ReorientDuration = r.ReorientDuration
	return cfg
}
