package projection

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestFitScenarios(t *testing.T) {
	// Viewport relatively wider than the portrait source
	l := Fit(pose.Size{Width: 720, Height: 1280}, pose.Size{Width: 1000, Height: 1000})
	require.InDelta(t, 0.78125, l.Scale, 1e-9)
	require.InDelta(t, 218.75, l.OffsetX, 1e-9)
	require.Equal(t, 0.0, l.OffsetY)

	// Viewport relatively taller than the landscape source
	l = Fit(pose.Size{Width: 1280, Height: 720}, pose.Size{Width: 1000, Height: 1000})
	require.InDelta(t, 0.78125, l.Scale, 1e-9)
	require.Equal(t, 0.0, l.OffsetX)
	require.InDelta(t, 218.75, l.OffsetY, 1e-9)

	// Identical aspect
	l = Fit(pose.Size{Width: 640, Height: 480}, pose.Size{Width: 1280, Height: 960})
	require.Equal(t, Letterbox{Scale: 2}, l)

	require.False(t, Fit(pose.Size{}, pose.Size{Width: 10, Height: 10}).Valid())
	require.False(t, Fit(pose.Size{Width: 10, Height: 10}, pose.Size{Width: -1, Height: 10}).Valid())
}

func TestFitContainsSource(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		src := pose.Size{Width: 1 + rng.Float64()*2000, Height: 1 + rng.Float64()*2000}
		dst := pose.Size{Width: 1 + rng.Float64()*2000, Height: 1 + rng.Float64()*2000}
		l := Fit(src, dst)
		require.True(t, l.Valid())
		for j := 0; j < 8; j++ {
			p := pose.Point{X: rng.Float64() * src.Width, Y: rng.Float64() * src.Height}
			s := l.Apply(p)
			require.GreaterOrEqual(t, s.X, -1e-6)
			require.GreaterOrEqual(t, s.Y, -1e-6)
			require.LessOrEqual(t, s.X, dst.Width+1e-6)
			require.LessOrEqual(t, s.Y, dst.Height+1e-6)
			back := l.Invert(s)
			require.InDelta(t, p.X, back.X, 1e-6)
			require.InDelta(t, p.Y, back.Y, 1e-6)
		}
	}
}

func TestQuatToMat(t *testing.T) {
	m := QuatToMat(pose.IdentityQuaternion())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			expect := 0.0
			if i == j {
				expect = 1
			}
			require.InDelta(t, expect, m.At(i, j), 1e-12)
		}
	}

	// 90 degrees around Z takes +X to +Y
	s := math.Sqrt(0.5)
	right, up, forward := Axes(pose.Quaternion{Z: s, W: s})
	requireVec(t, r3.Vec{Y: 1}, right)
	requireVec(t, r3.Vec{X: -1}, up)
	requireVec(t, r3.Vec{Z: 1}, forward)

	// Agrees with quaternion rotation for arbitrary input, and is not sensitive to scale
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		q := pose.Quaternion{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64(), W: rng.NormFloat64()}
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		requireVec(t, Rotate(q, v), QuatToMat(q).MulVec(v))
		requireVec(t, v, Rotate(Inverse(q), Rotate(q, v)))
	}
}

func TestProject(t *testing.T) {
	cam := DefaultCamera()
	vp := pose.Size{Width: 1280, Height: 720}

	p, ok := cam.Project(r3.Vec{Z: -2}, vp)
	require.True(t, ok)
	require.InDelta(t, 640, p.X, 1e-9)
	require.InDelta(t, 360, p.Y, 1e-9)

	// Top edge of the frustum lands on y=0
	p, ok = cam.Project(r3.Vec{Y: math.Tan(cam.FovY / 2), Z: -1}, vp)
	require.True(t, ok)
	require.InDelta(t, 0, p.Y, 1e-9)

	_, ok = cam.Project(r3.Vec{Z: 0}, vp)
	require.False(t, ok)
	_, ok = cam.Project(r3.Vec{X: 1, Z: 3}, vp)
	require.False(t, ok)
	_, ok = cam.Project(r3.Vec{Z: -1}, pose.Size{})
	require.False(t, ok)
}

func TestUnprojectRoundTrip(t *testing.T) {
	cam := DefaultCamera()
	cam.Eye = r3.Vec{X: 0.3, Y: -0.2, Z: 1}
	cam.Orientation = pose.Quaternion{Y: math.Sin(0.2), W: math.Cos(0.2)}
	vp := pose.Size{Width: 800, Height: 600}

	for _, depth := range []float64{0.05, 0.5, 3, 40} {
		for _, screen := range []pose.Point{{X: 400, Y: 300}, {X: 10, Y: 590}, {X: 799, Y: 0}} {
			w, ok := cam.Unproject(screen, depth, vp)
			require.True(t, ok)
			c := cam.ToCamera(w)
			require.InDelta(t, -depth, c.Z, 1e-6*depth+1e-9)
			back, ok := cam.Project(w, vp)
			require.True(t, ok)
			require.InDelta(t, screen.X, back.X, 1e-6)
			require.InDelta(t, screen.Y, back.Y, 1e-6)
		}
	}

	_, ok := cam.Unproject(pose.Point{}, 1, pose.Size{})
	require.False(t, ok)
}

func requireVec(t *testing.T, expect, actual r3.Vec) {
	t.Helper()
	require.InDelta(t, expect.X, actual.X, 1e-9)
	require.InDelta(t, expect.Y, actual.Y, 1e-9)
	require.InDelta(t, expect.Z, actual.Z, 1e-9)
}
