// Package geom holds the small amount of vector and angle math shared by the
// update scheduler and the remote entity reconciler.
package geom

import "math"

// Vec3 is a position, velocity or direction in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Euler stores an orientation as XYZ euler angles in radians.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Length returns the euclidean norm of v.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalize returns the unit vector pointing along v, or the zero vector when
// v has no length.
func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length == 0 {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// Distance is |a - b|.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Length()
}

// MaxAxisDelta returns the largest absolute per-axis difference between a and b.
func MaxAxisDelta(a, b Vec3) float64 {
	return math.Max(math.Abs(a.X-b.X), math.Max(math.Abs(a.Y-b.Y), math.Abs(a.Z-b.Z)))
}

// Lerp moves a toward b by factor t.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// WrapAngle maps an angle into (-π, π].
func WrapAngle(angle float64) float64 {
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// ShortestArcDelta returns the signed rotation that takes from to to along
// the shorter way around the circle. The magnitude never exceeds π.
func ShortestArcDelta(from, to float64) float64 {
	return WrapAngle(to - from)
}

// LerpAngle interpolates from toward to along the shortest arc.
func LerpAngle(from, to, t float64) float64 {
	return from + ShortestArcDelta(from, to)*t
}

// MaxAngularDelta is the largest shortest-arc delta across the three axes.
func MaxAngularDelta(a, b Euler) float64 {
	return math.Max(
		math.Abs(ShortestArcDelta(a.X, b.X)),
		math.Max(math.Abs(ShortestArcDelta(a.Y, b.Y)), math.Abs(ShortestArcDelta(a.Z, b.Z))),
	)
}

// LerpEuler interpolates every axis independently along its shortest arc.
func LerpEuler(from, to Euler, t float64) Euler {
	return Euler{
		X: LerpAngle(from.X, to.X, t),
		Y: LerpAngle(from.Y, to.Y, t),
		Z: LerpAngle(from.Z, to.Z, t),
	}
}
