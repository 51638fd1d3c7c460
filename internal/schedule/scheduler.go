// Package schedule decides, once per local simulation tick, whether the local
// skater's snapshot goes out on the wire.
package schedule

import (
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/geom"
	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
)

type Config struct {
	UpdateRateHz    float64
	IdleInterval    time.Duration
	PositionEpsilon float64
	RotationEpsilon float64
}

func DefaultConfig() Config {
	return Config{
		UpdateRateHz:    30,
		IdleInterval:    500 * time.Millisecond,
		PositionEpsilon: 0.01,
		RotationEpsilon: 0.02,
	}
}

// Interval is the send interval used while the skater is moving.
func (c Config) Interval() time.Duration {
	if c.UpdateRateHz <= 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) / c.UpdateRateHz)
}

// Scheduler is owned by a single event loop and is not safe for concurrent use.
type Scheduler struct {
	cfg Config

	sent             bool
	lastSentTime     time.Time
	lastSentPosition geom.Vec3
	lastSentRotation geom.Euler
	lastSentTrick    proto.TrickState
}

func New(cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaults.IdleInterval
	}
	if cfg.PositionEpsilon <= 0 {
		cfg.PositionEpsilon = defaults.PositionEpsilon
	}
	if cfg.RotationEpsilon <= 0 {
		cfg.RotationEpsilon = defaults.RotationEpsilon
	}
	return &Scheduler{cfg: cfg}
}

// Decide returns the snapshot to transmit and whether to transmit it. The
// returned snapshot only carries trick state while a trick is playing or the
// trick state changed since the last send.
func (s *Scheduler) Decide(now time.Time, snapshot proto.EntitySnapshot) (proto.EntitySnapshot, bool) {
	positionChanged := geom.MaxAxisDelta(snapshot.Position, s.lastSentPosition) >= s.cfg.PositionEpsilon
	rotationChanged := geom.MaxAngularDelta(snapshot.Rotation, s.lastSentRotation) >= s.cfg.RotationEpsilon

	var trick proto.TrickState
	if snapshot.Trick != nil {
		trick = *snapshot.Trick
	}
	trickChanged := trick != s.lastSentTrick
	moving := positionChanged || rotationChanged || trickChanged

	normal := s.cfg.Interval()
	interval := s.cfg.IdleInterval
	if moving {
		interval = normal
	}

	elapsed := now.Sub(s.lastSentTime)
	send := !s.sent || elapsed >= interval || (moving && elapsed >= normal)
	if !send {
		return proto.EntitySnapshot{}, false
	}

	out := snapshot
	out.Trick = nil
	if trick.Active() || trickChanged {
		copied := trick
		out.Trick = &copied
	}
	if out.Timestamp == 0 {
		out.Timestamp = now.UnixMilli()
	}

	s.sent = true
	s.lastSentTime = now
	s.lastSentPosition = snapshot.Position
	s.lastSentRotation = snapshot.Rotation
	s.lastSentTrick = trick
	return out, true
}

// Reset forgets the send history so the next tick always transmits. Used
// after a role change, when the new peers have never seen this skater.
func (s *Scheduler) Reset() {
	*s = Scheduler{cfg: s.cfg}
}
