package projection

import (
	"math"

	"github.com/cyclopcam/pointer/pkg/pose"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Camera is a pinhole camera. Camera space is right handed, with the camera looking down -Z
// and +Y up. Orientation rotates camera space into world space.
type Camera struct {
	FovY        float64         `json:"fovY"` // Vertical field of view, in radians
	Near        float64         `json:"near"`
	Far         float64         `json:"far"`
	Eye         r3.Vec          `json:"eye"`
	Orientation pose.Quaternion `json:"orientation"`
}

func DefaultCamera() Camera {
	return Camera{
		FovY:        60 * math.Pi / 180,
		Near:        0.01,
		Far:         100,
		Orientation: pose.IdentityQuaternion(),
	}
}

// ToCamera transforms a world space point into camera space
func (c Camera) ToCamera(world r3.Vec) r3.Vec {
	return Rotate(Inverse(c.Orientation), r3.Sub(world, c.Eye))
}

// ToWorld transforms a camera space point into world space
func (c Camera) ToWorld(cam r3.Vec) r3.Vec {
	return r3.Add(Rotate(c.Orientation, cam), c.Eye)
}

// focal returns the x and y scale factors of the projection
func (c Camera) focal(viewport pose.Size) (fx, fy float64) {
	fy = 1 / math.Tan(c.FovY/2)
	fx = fy / viewport.Aspect()
	return
}

// Project a world space point into viewport pixels (y pointing down).
// Returns false if the point is at or behind the camera, or the viewport is empty.
func (c Camera) Project(world r3.Vec, viewport pose.Size) (pose.Point, bool) {
	if !viewport.Valid() {
		return pose.Point{}, false
	}
	p := c.ToCamera(world)
	if p.Z >= 0 {
		return pose.Point{}, false
	}
	fx, fy := c.focal(viewport)
	ndcX := fx * p.X / -p.Z
	ndcY := fy * p.Y / -p.Z
	return ndcToScreen(ndcX, ndcY, viewport), true
}

// ProjectionMatrix returns the OpenGL style perspective matrix for the viewport
func (c Camera) ProjectionMatrix(viewport pose.Size) *mat.Dense {
	fx, fy := c.focal(viewport)
	n, f := c.Near, c.Far
	return mat.NewDense(4, 4, []float64{
		fx, 0, 0, 0,
		0, fy, 0, 0,
		0, 0, (f + n) / (n - f), 2 * f * n / (n - f),
		0, 0, -1, 0,
	})
}

// Unproject finds the world space point under the screen point, at the given camera space
// depth (distance along -Z). The screen point is unprojected onto the near and far planes,
// and the result is interpolated along that ray.
// Returns false if the viewport is empty or the camera parameters are degenerate.
func (c Camera) Unproject(screen pose.Point, depth float64, viewport pose.Size) (r3.Vec, bool) {
	if !viewport.Valid() || c.Far <= c.Near {
		return r3.Vec{}, false
	}
	var inv mat.Dense
	if err := inv.Inverse(c.ProjectionMatrix(viewport)); err != nil {
		return r3.Vec{}, false
	}
	ndcX := 2*screen.X/viewport.Width - 1
	ndcY := 1 - 2*screen.Y/viewport.Height
	near, ok1 := unprojectNDC(&inv, ndcX, ndcY, -1)
	far, ok2 := unprojectNDC(&inv, ndcX, ndcY, 1)
	if !ok1 || !ok2 || near.Z == far.Z {
		return r3.Vec{}, false
	}
	t := (-depth - near.Z) / (far.Z - near.Z)
	p := r3.Add(near, r3.Scale(t, r3.Sub(far, near)))
	return c.ToWorld(p), true
}

func unprojectNDC(inv *mat.Dense, x, y, z float64) (r3.Vec, bool) {
	var out mat.VecDense
	out.MulVec(inv, mat.NewVecDense(4, []float64{x, y, z, 1}))
	w := out.AtVec(3)
	if w == 0 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w}, true
}

func ndcToScreen(x, y float64, viewport pose.Size) pose.Point {
	return pose.Point{
		X: (x + 1) / 2 * viewport.Width,
		Y: (1 - y) / 2 * viewport.Height,
	}
}
