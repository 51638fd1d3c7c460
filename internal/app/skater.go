package app

import (
	"math"
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/geom"
	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
)

const (
	skaterRadius    = 6.0
	skaterLapTime   = 8 * time.Second
	skaterJumpEvery = 4 * time.Second
	skaterAirTime   = 600 * time.Millisecond
	skaterJumpPeak  = 1.2
)

// scriptedSkater rides a circle and kickflips on a fixed cadence, so a
// headless peer produces traffic the reconciler has to smooth.
type scriptedSkater struct {
	start  time.Time
	center geom.Vec3
	phase  float64
}

func newScriptedSkater(start time.Time, center geom.Vec3, phase float64) *scriptedSkater {
	return &scriptedSkater{start: start, center: center, phase: phase}
}

func (s *scriptedSkater) Snapshot(now time.Time) proto.EntitySnapshot {
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}
	angle := s.phase + 2*math.Pi*elapsed.Seconds()/skaterLapTime.Seconds()

	position := geom.Vec3{
		X: s.center.X + skaterRadius*math.Cos(angle),
		Y: s.center.Y,
		Z: s.center.Z + skaterRadius*math.Sin(angle),
	}
	rotation := geom.Euler{Y: geom.WrapAngle(-angle)}

	snapshot := proto.EntitySnapshot{
		Position:  position,
		Rotation:  rotation,
		Timestamp: now.UnixMilli(),
	}

	cycle := elapsed % skaterJumpEvery
	if air := skaterJumpEvery - skaterAirTime; cycle >= air {
		inAir := cycle - air
		progress := inAir.Seconds() / skaterAirTime.Seconds()
		snapshot.Position.Y += skaterJumpPeak * math.Sin(math.Pi*progress)
		snapshot.Trick = &proto.TrickState{
			IsFlipping:    true,
			FlipStartedAt: now.Add(-inAir).UnixMilli(),
			FlipProgress:  progress,
		}
	}
	return snapshot
}
