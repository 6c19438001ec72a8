package projection

import (
	"github.com/cyclopcam/pointer/pkg/pose"
	"gonum.org/v1/gonum/spatial/r3"
)

// QuatToMat converts a quaternion into a 3x3 rotation matrix.
// The quaternion is normalized first.
func QuatToMat(q pose.Quaternion) *r3.Mat {
	q = q.Normalized()
	x, y, z, w := q.X, q.Y, q.Z, q.W
	return r3.NewMat([]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// Axes returns the object's +X (right), +Y (up), and +Z (forward) axes rotated by q
func Axes(q pose.Quaternion) (right, up, forward r3.Vec) {
	m := QuatToMat(q)
	right = m.MulVec(r3.Vec{X: 1})
	up = m.MulVec(r3.Vec{Y: 1})
	forward = m.MulVec(r3.Vec{Z: 1})
	return
}

// Inverse returns the conjugate of a unit quaternion
func Inverse(q pose.Quaternion) pose.Quaternion {
	q = q.Normalized()
	return pose.Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Rotate rotates v by q
func Rotate(q pose.Quaternion, v r3.Vec) r3.Vec {
	return q.Rotation().Rotate(v)
}
