// Package frustum extracts view-frustum planes from a combined
// projection*view(*model) matrix (Gribb/Hartmann) and tests points against them.
//
// Matrices are column-major mgl32.Mat4 values, the same layout glm and OpenGL
// use, so m.Row(i) is the i-th row of the matrix as written on paper.
package frustum

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane is ax + by + cz + d = 0. Points with positive distance are inside.
type Plane struct {
	A, B, C, D float32
}

const (
	Left = iota
	Right
	Top
	Bottom
	Near
	Far
	NumPlanes
)

var planeNames = [NumPlanes]string{"left", "right", "top", "bottom", "near", "far"}

func PlaneName(i int) string {
	if i < 0 || i >= NumPlanes {
		return "unknown"
	}
	return planeNames[i]
}

type Frustum [NumPlanes]Plane

func planeFrom(v mgl32.Vec4) Plane {
	return Plane{A: v[0], B: v[1], C: v[2], D: v[3]}
}

// Extract derives the six clipping planes from m. With normalize set, each
// plane is scaled so that (A, B, C) has unit length and DistanceToPoint
// returns true distances.
func Extract(m mgl32.Mat4, normalize bool) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	f := Frustum{
		Left:   planeFrom(r3.Add(r0)),
		Right:  planeFrom(r3.Sub(r0)),
		Top:    planeFrom(r3.Sub(r1)),
		Bottom: planeFrom(r3.Add(r1)),
		Near:   planeFrom(r3.Add(r2)),
		Far:    planeFrom(r3.Sub(r2)),
	}
	if normalize {
		for i := range f {
			f[i] = f[i].Normalize()
		}
	}
	return f
}

// Normalize divides all four components by |(A, B, C)|. A degenerate plane
// (zero normal) is returned unchanged.
func (p Plane) Normalize() Plane {
	mag := float32(math.Sqrt(float64(p.A*p.A + p.B*p.B + p.C*p.C)))
	if mag == 0 {
		return p
	}
	return Plane{A: p.A / mag, B: p.B / mag, C: p.C / mag, D: p.D / mag}
}

func (p Plane) DistanceToPoint(pt mgl32.Vec3) float32 {
	return p.A*pt[0] + p.B*pt[1] + p.C*pt[2] + p.D
}

// Outside reports whether a sphere at center with the given radius lies
// entirely behind at least one plane. It returns the first such plane index,
// or -1 when the sphere is not culled. The test is inclusive: a sphere that
// just touches a plane from behind is culled.
func (f *Frustum) Outside(center mgl32.Vec3, radius float32) int {
	for i := range f {
		if f[i].DistanceToPoint(center) <= -radius {
			return i
		}
	}
	return -1
}
