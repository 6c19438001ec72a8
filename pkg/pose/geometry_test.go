package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// Local unit box corners, laid out so that 0→1 is +X, 0→4 is +Y and 0→3 is +Z
var unitBox = [8]r3.Vec{
	{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 0, Z: 1},
	{X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: 0, Y: 1, Z: 1},
}

// Orthographic projection of the rotated unit box into an image with y pointing down
func projectBox(rotate func(r3.Vec) r3.Vec) []Point {
	pts := make([]Point, 8)
	for i, c := range unitBox {
		p := rotate(c)
		pts[i] = Point{X: 300 + p.X*100, Y: 300 - p.Y*100}
	}
	return pts
}

func requireVecNear(t *testing.T, expect, actual r3.Vec) {
	t.Helper()
	require.InDelta(t, expect.X, actual.X, 1e-6)
	require.InDelta(t, expect.Y, actual.Y, 1e-6)
	require.InDelta(t, expect.Z, actual.Z, 1e-6)
}

func TestRotationFromCornersFrontView(t *testing.T) {
	corners := projectBox(func(v r3.Vec) r3.Vec { return v })
	q, ok := RotationFromCorners(corners)
	require.True(t, ok)
	rot := q.Rotation()
	requireVecNear(t, r3.Vec{X: 1}, rot.Rotate(r3.Vec{X: 1}))
	requireVecNear(t, r3.Vec{Y: 1}, rot.Rotate(r3.Vec{Y: 1}))
	requireVecNear(t, r3.Vec{Z: 1}, rot.Rotate(r3.Vec{Z: 1}))
}

func TestRotationFromCornersTilted(t *testing.T) {
	r1 := r3.NewRotation(30*math.Pi/180, r3.Vec{Y: 1})
	r2 := r3.NewRotation(20*math.Pi/180, r3.Vec{X: 1})
	rotate := func(v r3.Vec) r3.Vec { return r2.Rotate(r1.Rotate(v)) }

	q, ok := RotationFromCorners(projectBox(rotate))
	require.True(t, ok)
	rot := q.Rotation()
	for _, axis := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}} {
		requireVecNear(t, rotate(axis), rot.Rotate(axis))
	}

	// The frame accessor derives the same thing when no wire rotation is present
	f := &Frame{Corners: projectBox(rotate), ImageSize: Size{Width: 600, Height: 600}}
	q2, ok := f.Rotation()
	require.True(t, ok)
	require.InDelta(t, 1, math.Abs(q.X*q2.X+q.Y*q2.Y+q.Z*q2.Z+q.W*q2.W), 1e-9)
}

func TestRotationFromCornersDegenerate(t *testing.T) {
	_, ok := RotationFromCorners(make([]Point, 8))
	require.False(t, ok)

	_, ok = RotationFromCorners(make([]Point, 6))
	require.False(t, ok)

	// Two collapsed edges
	corners := make([]Point, 8)
	corners[1] = Point{X: 10}
	_, ok = RotationFromCorners(corners)
	require.False(t, ok)
}
