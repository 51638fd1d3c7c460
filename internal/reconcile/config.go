package reconcile

import (
	"math"
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/geom"
)

// RailGeometry lets grind playback follow the rails the local game knows
// about instead of only the received coordinates.
type RailGeometry interface {
	// Snap returns the closest point on a rail to position, or false when
	// no rail is close enough to grind on.
	Snap(position geom.Vec3) (geom.Vec3, bool)
}

// Config holds the classification thresholds and smoothing gains.
type Config struct {
	GroundLevel   float64
	JumpRise      float64
	JumpFall      float64
	LandingMargin float64
	LandingHold   time.Duration
	MoveThreshold float64

	PredictionGain float64
	PredictionCap  float64

	HorizontalLerp float64
	VerticalLerp   float64
	RotationLerp   float64
	DistanceGain   float64
	JumpBoost      float64
	IdleSnapAfter  time.Duration
	SnapRotation   float64

	FlipDuration       time.Duration
	ReorientDuration   time.Duration
	FlipDriftTolerance float64
	GrindLerp          float64

	Rails RailGeometry
}

func DefaultConfig() Config {
	return Config{
		GroundLevel:   0,
		JumpRise:      0.1,
		JumpFall:      0.05,
		LandingMargin: 0.1,
		LandingHold:   300 * time.Millisecond,
		MoveThreshold: 0.03,

		PredictionGain: 2.0,
		PredictionCap:  0.5,

		HorizontalLerp: 0.15,
		VerticalLerp:   0.2,
		RotationLerp:   0.2,
		DistanceGain:   3,
		JumpBoost:      2.5,
		IdleSnapAfter:  200 * time.Millisecond,
		SnapRotation:   math.Pi / 2,

		FlipDuration:       500 * time.Millisecond,
		ReorientDuration:   300 * time.Millisecond,
		FlipDriftTolerance: 0.15,
		GrindLerp:          0.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.JumpRise <= 0 {
		c.JumpRise = d.JumpRise
	}
	if c.JumpFall <= 0 {
		c.JumpFall = d.JumpFall
	}
	if c.LandingMargin <= 0 {
		c.LandingMargin = d.LandingMargin
	}
	if c.LandingHold <= 0 {
		c.LandingHold = d.LandingHold
	}
	if c.MoveThreshold <= 0 {
		c.MoveThreshold = d.MoveThreshold
	}
	if c.PredictionGain <= 0 {
		c.PredictionGain = d.PredictionGain
	}
	if c.PredictionCap <= 0 {
		c.PredictionCap = d.PredictionCap
	}
	if c.HorizontalLerp <= 0 {
		c.HorizontalLerp = d.HorizontalLerp
	}
	if c.VerticalLerp <= 0 {
		c.VerticalLerp = d.VerticalLerp
	}
	if c.RotationLerp <= 0 {
		c.RotationLerp = d.RotationLerp
	}
	if c.DistanceGain <= 0 {
		c.DistanceGain = d.DistanceGain
	}
	if c.JumpBoost <= 0 {
		c.JumpBoost = d.JumpBoost
	}
	if c.IdleSnapAfter <= 0 {
		c.IdleSnapAfter = d.IdleSnapAfter
	}
	if c.SnapRotation <= 0 {
		c.SnapRotation = d.SnapRotation
	}
	if c.FlipDuration <= 0 {
		c.FlipDuration = d.FlipDuration
	}
	if c.ReorientDuration <= 0 {
		c.ReorientDuration = d.ReorientDuration
	}
	if c.FlipDriftTolerance <= 0 {
		c.FlipDriftTolerance = d.FlipDriftTolerance
	}
	if c.GrindLerp <= 0 {
		c.GrindLerp = d.GrindLerp
	}
	return c
}
