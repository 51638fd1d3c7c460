// Package reconcile turns the sparse, jittery snapshot stream of each remote
// skater into smooth position, rotation and trick playback for rendering.
// Every peer's stream is handled independently, keyed by peer id.
package reconcile

import (
	"math"
	"sort"
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/geom"
	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
)

// Movement is the coarse classification derived from consecutive snapshots.
type Movement struct {
	IsMoving         bool
	StoppedAt        time.Time
	IsJumping        bool
	JumpStartedAt    time.Time
	PeakHeight       float64
	IsLanding        bool
	LandingStartedAt time.Time
}

// Entity is the reconciled state of one remote skater.
type Entity struct {
	PeerID     string
	Last       proto.EntitySnapshot
	Target     proto.EntitySnapshot
	LastUpdate time.Time
	Movement   Movement
	Direction  geom.Vec3

	Position geom.Vec3
	Rotation geom.Euler

	trick         proto.TrickState
	flipStart     time.Time
	reorientStart time.Time
	grindProgress float64
}

// RenderState is what the renderer needs to pose a remote skater this frame.
type RenderState struct {
	PeerID   string
	Position geom.Vec3
	Rotation geom.Euler
	Trick    proto.TrickState
	Movement Movement

	// ReorientProgress is how far the stance reorientation has played, in
	// [0,1]. It stays 0 while no reorientation is active.
	ReorientProgress float64
}

// Reconciler owns one Entity per remote peer. It is driven from a single
// event loop and is not safe for concurrent use.
type Reconciler struct {
	cfg      Config
	entities map[string]*Entity
}

func New(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg.withDefaults(), entities: make(map[string]*Entity)}
}

// Ingest folds a received snapshot for peerID into its entity, creating the
// entity on first contact.
func (r *Reconciler) Ingest(peerID string, snapshot proto.EntitySnapshot, now time.Time) {
	if peerID == "" {
		return
	}
	e, ok := r.entities[peerID]
	if !ok {
		e = &Entity{
			PeerID:     peerID,
			Last:       snapshot,
			Target:     snapshot,
			LastUpdate: now,
			Position:   snapshot.Position,
			Rotation:   snapshot.Rotation,
			Movement:   Movement{StoppedAt: now},
		}
		r.entities[peerID] = e
		r.syncTrick(e, snapshot, now)
		return
	}

	previous := e.Target
	totalDisplacement := geom.Distance(previous.Position, snapshot.Position)
	verticalDelta := snapshot.Position.Y - previous.Position.Y

	e.Last = previous
	e.Target = snapshot
	e.LastUpdate = now
	r.classify(e, previous, totalDisplacement, verticalDelta, now)
	r.syncTrick(e, snapshot, now)
}

// classify applies the movement rules in order. They are not exclusive: a
// single snapshot can both record the peak of a jump and start the landing.
func (r *Reconciler) classify(e *Entity, previous proto.EntitySnapshot, totalDisplacement, verticalDelta float64, now time.Time) {
	m := &e.Movement
	targetY := e.Target.Position.Y

	if verticalDelta > r.cfg.JumpRise && !m.IsJumping {
		m.IsJumping = true
		m.JumpStartedAt = now
		m.PeakHeight = 0
	}
	if m.IsJumping && verticalDelta < -r.cfg.JumpFall {
		m.PeakHeight = math.Max(m.PeakHeight, targetY-r.cfg.GroundLevel)
	}
	if targetY <= r.cfg.GroundLevel+r.cfg.LandingMargin && m.IsJumping {
		m.IsLanding = true
		m.LandingStartedAt = now
		m.IsJumping = false
	}
	r.expireLanding(m, now)

	if totalDisplacement > r.cfg.MoveThreshold {
		m.IsMoving = true
		e.Direction = e.Target.Position.Sub(previous.Position).Normalize()
		return
	}
	if m.IsMoving {
		m.StoppedAt = now
	}
	m.IsMoving = false
}

func (r *Reconciler) expireLanding(m *Movement, now time.Time) {
	if m.IsLanding && now.Sub(m.LandingStartedAt) > r.cfg.LandingHold {
		m.IsLanding = false
	}
}

// syncTrick anchors trick playback to the local clock. The sender's
// timestamps are translated through the snapshot timestamp so clock skew
// between peers does not distort the animation.
func (r *Reconciler) syncTrick(e *Entity, snapshot proto.EntitySnapshot, now time.Time) {
	var incoming proto.TrickState
	if snapshot.Trick != nil {
		incoming = *snapshot.Trick
	}

	switch {
	case !incoming.IsFlipping:
		e.flipStart = time.Time{}
	case !e.trick.IsFlipping || e.flipStart.IsZero():
		e.flipStart = r.localStart(snapshot, incoming.FlipStartedAt, incoming.FlipProgress, r.cfg.FlipDuration, now)
	default:
		local := progress(e.flipStart, r.cfg.FlipDuration, now)
		if math.Abs(local-incoming.FlipProgress) > r.cfg.FlipDriftTolerance {
			e.flipStart = now.Add(-time.Duration(incoming.FlipProgress * float64(r.cfg.FlipDuration)))
		}
	}

	switch {
	case !incoming.IsReorienting:
		e.reorientStart = time.Time{}
	case !e.trick.IsReorienting || e.reorientStart.IsZero():
		e.reorientStart = r.localStart(snapshot, incoming.ReorientStartedAt, 0, r.cfg.ReorientDuration, now)
	}

	if incoming.IsGrinding && !e.trick.IsGrinding {
		e.grindProgress = incoming.GrindProgress
	}
	if !incoming.IsGrinding {
		e.grindProgress = 0
	}
	e.trick = incoming
}

func (r *Reconciler) localStart(snapshot proto.EntitySnapshot, startedAt int64, fallbackProgress float64, duration time.Duration, now time.Time) time.Time {
	if startedAt > 0 && snapshot.Timestamp > 0 {
		elapsed := time.Duration(snapshot.Timestamp-startedAt) * time.Millisecond
		if elapsed < 0 {
			elapsed = 0
		}
		return now.Add(-elapsed)
	}
	return now.Add(-time.Duration(geom.Clamp(fallbackProgress, 0, 1) * float64(duration)))
}

func progress(start time.Time, duration time.Duration, now time.Time) float64 {
	if start.IsZero() || duration <= 0 {
		return 0
	}
	return geom.Clamp(float64(now.Sub(start))/float64(duration), 0, 1)
}

// Step advances the smoothed pose of peerID to now and returns it.
func (r *Reconciler) Step(peerID string, now time.Time) (RenderState, bool) {
	e, ok := r.entities[peerID]
	if !ok {
		return RenderState{}, false
	}
	r.step(e, now)
	return r.render(e, now), true
}

// Frame advances every entity to now.
func (r *Reconciler) Frame(now time.Time) map[string]RenderState {
	out := make(map[string]RenderState, len(r.entities))
	for id, e := range r.entities {
		r.step(e, now)
		out[id] = r.render(e, now)
	}
	return out
}

func (r *Reconciler) step(e *Entity, now time.Time) {
	m := &e.Movement
	r.expireLanding(m, now)

	target := e.Target.Position
	if m.IsMoving {
		sinceUpdate := now.Sub(e.LastUpdate).Seconds()
		lead := math.Min(r.cfg.PredictionCap, sinceUpdate*r.cfg.PredictionGain)
		target = target.Add(e.Direction.Scale(lead))
	}

	if !m.IsMoving && now.Sub(m.StoppedAt) > r.cfg.IdleSnapAfter {
		e.Position = e.Target.Position
		e.Rotation = e.Target.Rotation
		r.anchorToRail(e)
		return
	}

	horizontal := math.Hypot(target.X-e.Position.X, target.Z-e.Position.Z)
	hFactor := math.Min(1, r.cfg.HorizontalLerp*(1+horizontal*r.cfg.DistanceGain))
	e.Position.X = geom.Lerp(e.Position.X, target.X, hFactor)
	e.Position.Z = geom.Lerp(e.Position.Z, target.Z, hFactor)

	vertical := math.Abs(target.Y - e.Position.Y)
	vFactor := r.cfg.VerticalLerp * (1 + vertical*r.cfg.DistanceGain)
	if m.IsJumping {
		vFactor *= r.cfg.JumpBoost
	}
	e.Position.Y = geom.Lerp(e.Position.Y, target.Y, math.Min(1, vFactor))

	rotationError := geom.MaxAngularDelta(e.Rotation, e.Target.Rotation)
	if rotationError > r.cfg.SnapRotation {
		e.Rotation = e.Target.Rotation
	} else {
		rFactor := math.Min(1, r.cfg.RotationLerp*(1+rotationError*r.cfg.DistanceGain))
		e.Rotation = geom.LerpEuler(e.Rotation, e.Target.Rotation, rFactor)
	}

	if e.trick.IsGrinding {
		e.grindProgress = geom.Lerp(e.grindProgress, e.trick.GrindProgress, r.cfg.GrindLerp)
	}
	r.anchorToRail(e)
}

func (r *Reconciler) anchorToRail(e *Entity) {
	if !e.trick.IsGrinding || r.cfg.Rails == nil {
		return
	}
	if snapped, ok := r.cfg.Rails.Snap(e.Position); ok {
		e.Position = snapped
	}
}

func (r *Reconciler) render(e *Entity, now time.Time) RenderState {
	trick := e.trick
	if trick.IsFlipping {
		trick.FlipProgress = progress(e.flipStart, r.cfg.FlipDuration, now)
	}
	if trick.IsGrinding {
		trick.GrindProgress = e.grindProgress
	}
	state := RenderState{
		PeerID:   e.PeerID,
		Position: e.Position,
		Rotation: e.Rotation,
		Trick:    trick,
		Movement: e.Movement,
	}
	if trick.IsReorienting {
		state.ReorientProgress = progress(e.reorientStart, r.cfg.ReorientDuration, now)
	}
	return state
}

// Entity returns a copy of the reconciled state of peerID.
func (r *Reconciler) Entity(peerID string) (Entity, bool) {
	e, ok := r.entities[peerID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Remove forgets peerID.
func (r *Reconciler) Remove(peerID string) bool {
	if _, ok := r.entities[peerID]; !ok {
		return false
	}
	delete(r.entities, peerID)
	return true
}

// Retain drops every entity whose peer id is not in ids and returns the
// removed ids.
func (r *Reconciler) Retain(ids []string) []string {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	var removed []string
	for id := range r.entities {
		if _, ok := keep[id]; !ok {
			delete(r.entities, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Peers lists the reconciled peer ids in order.
func (r *Reconciler) Peers() []string {
	out := make([]string, 0, len(r.entities))
	for id := range r.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every entity.
func (r *Reconciler) Reset() {
	r.entities = make(map[string]*Entity)
}
