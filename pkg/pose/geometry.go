package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Edges shorter than this fraction of the longest edge are considered to point
// straight at the camera.
const degenerateEdgeFraction = 1e-3

// RotationFromCorners estimates the orientation of an oriented box from its 8 projected corners.
//
// The edges 0→1, 0→4 and 0→3 are taken as the object's +X, +Y and +Z axes. We treat
// the projection as orthographic, which means the three image-space edges are the x/y
// components of three mutually orthogonal 3D vectors. Their missing depth components
// satisfy z_i*z_j = -(e_i·e_j), which we solve for. Image y points down, so it is flipped
// to make +Y point up. The camera looks down -Z, so positive depth is toward the viewer.
// The sign ambiguity of the solution is resolved by choosing the pivot axis to face the
// camera.
//
// Returns false if the geometry is degenerate or inconsistent with a rectangular box.
func RotationFromCorners(corners []Point) (Quaternion, bool) {
	if len(corners) != NumCorners {
		return Quaternion{}, false
	}
	o := corners[0]
	edges := [3]r3.Vec{
		yUp(corners[1].Sub(o)), // +X
		yUp(corners[4].Sub(o)), // +Y
		yUp(corners[3].Sub(o)), // +Z
	}
	lengths := [3]float64{}
	longest := 0.0
	for i, e := range edges {
		lengths[i] = math.Hypot(e.X, e.Y)
		longest = max(longest, lengths[i])
	}
	if longest == 0 {
		return Quaternion{}, false
	}

	degenerate := -1
	for i := range edges {
		if lengths[i] < longest*degenerateEdgeFraction {
			if degenerate != -1 {
				return Quaternion{}, false
			}
			degenerate = i
		}
	}

	if degenerate != -1 {
		// One axis points straight at the camera. The other two lie in the image plane.
		edges[degenerate] = r3.Vec{Z: 1}
	} else if !solveDepths(&edges, lengths) {
		return Quaternion{}, false
	}

	x := r3.Unit(edges[0])
	y := r3.Sub(edges[1], r3.Scale(r3.Dot(edges[1], x), x))
	if r3.Norm(y) < 1e-9 {
		return Quaternion{}, false
	}
	y = r3.Unit(y)
	z := r3.Cross(x, y)
	return quaternionFromAxes(x, y, z), true
}

// Fill in the Z component of the three edges.
// dot(i, j) = -z_i*z_j, so z_i² = -(d_ij*d_ik)/d_jk.
func solveDepths(edges *[3]r3.Vec, lengths [3]float64) bool {
	zz := func(i, j int) float64 {
		// z_i * z_j
		return -(edges[i].X*edges[j].X + edges[i].Y*edges[j].Y)
	}
	pivot := -1
	best := 0.0
	for i := 0; i < 3; i++ {
		j := (i + 1) % 3
		k := (i + 2) % 3
		denom := zz(j, k)
		if math.Abs(denom) < 1e-9*lengths[j]*lengths[k] {
			continue
		}
		sq := zz(i, j) * zz(i, k) / denom
		if sq > best {
			best = sq
			pivot = i
		}
	}
	if pivot == -1 || math.Sqrt(best) < lengths[pivot]*degenerateEdgeFraction {
		return false
	}
	zp := math.Sqrt(best)
	z := [3]float64{}
	z[pivot] = zp
	for i := 0; i < 3; i++ {
		if i != pivot {
			z[i] = zz(pivot, i) / zp
		}
	}
	for i := range edges {
		edges[i].Z = z[i]
	}
	return true
}

func yUp(p Point) r3.Vec {
	return r3.Vec{X: p.X, Y: -p.Y}
}

// quaternionFromAxes converts the orthonormal basis (x, y, z), which form the columns
// of a rotation matrix, into a unit quaternion.
func quaternionFromAxes(x, y, z r3.Vec) Quaternion {
	m00, m01, m02 := x.X, y.X, z.X
	m10, m11, m12 := x.Y, y.Y, z.Y
	m20, m21, m22 := x.Z, y.Z, z.Z
	var q Quaternion
	if tr := m00 + m11 + m22; tr > 0 {
		s := math.Sqrt(tr+1) * 2
		q = Quaternion{W: 0.25 * s, X: (m21 - m12) / s, Y: (m02 - m20) / s, Z: (m10 - m01) / s}
	} else if m00 > m11 && m00 > m22 {
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = Quaternion{W: (m21 - m12) / s, X: 0.25 * s, Y: (m01 + m10) / s, Z: (m02 + m20) / s}
	} else if m11 > m22 {
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = Quaternion{W: (m02 - m20) / s, X: (m01 + m10) / s, Y: 0.25 * s, Z: (m12 + m21) / s}
	} else {
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = Quaternion{W: (m10 - m01) / s, X: (m02 + m20) / s, Y: (m12 + m21) / s, Z: 0.25 * s}
	}
	return q.Normalized()
}
