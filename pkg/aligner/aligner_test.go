package aligner

import (
	"math"
	"strings"
	"testing"

	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/pkg/projection"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const frameJSON = `{
	"frame_count": 1,
	"timestamp": "x",
	"projected_points_2d": [[300,700],[420,700],[420,820],[300,820],[300,580],[420,580],[420,700],[300,700]],
	"image_size": [720, 1280],
	"rotation_quaternion": [0, 0, 0, 1]
}`

var viewport = pose.Size{Width: 1000, Height: 1000}

func testFrame(t *testing.T, payload string) *pose.Frame {
	f, err := pose.Decode([]byte(payload))
	require.NoError(t, err)
	return f
}

func TestLoadOBJ(t *testing.T) {
	obj := `# cube
o thing
v -1 0 -0.5
v 1 2 0.5
vt 0 0
v 0 1 0
f 1 2 3
`
	m, err := LoadOBJ(strings.NewReader(obj))
	require.NoError(t, err)
	require.Equal(t, 3, len(m.Vertices))
	require.Equal(t, r3.Box{Min: r3.Vec{X: -1, Y: 0, Z: -0.5}, Max: r3.Vec{X: 1, Y: 2, Z: 0.5}}, m.Bounds())

	_, err = LoadOBJ(strings.NewReader("o empty\n"))
	require.ErrorIs(t, err, ErrNoVertices)

	_, err = LoadOBJ(strings.NewReader("v 1 2\n"))
	require.Error(t, err)

	_, err = LoadOBJ(strings.NewReader("v 1 2 x\n"))
	require.Error(t, err)
}

func TestBoxCorners(t *testing.T) {
	b := (&BoxMesh{Size: r3.Vec{X: 2, Y: 4, Z: 6}}).Bounds()
	c := BoxCorners(b)
	for i := 0; i < 4; i++ {
		require.Equal(t, -2.0, c[i].Y)
		require.Equal(t, 2.0, c[i+4].Y)
	}
	require.Equal(t, r3.Vec{X: 2}, r3.Sub(c[1], c[0]))
	require.Equal(t, r3.Vec{Z: 6}, r3.Sub(c[3], c[0]))
	require.InDelta(t, math.Sqrt(4+16+36)/2, boundingRadius(b), 1e-12)
}

func TestUpdate(t *testing.T) {
	mesh := &BoxMesh{Size: r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}}
	cam := projection.DefaultCamera()
	a := New(mesh, cam)
	f := testFrame(t, frameJSON)

	require.True(t, a.Update(f, viewport))
	tr := a.Transform()
	require.Equal(t, pose.IdentityQuaternion(), tr.Orientation)
	require.Equal(t, int64(1), a.NumUpdates())

	// Expected scale, from the top face unprojected at the working depth
	lb := projection.Fit(f.ImageSize, viewport)
	top := lb.ApplyAll(f.TopFace())
	world := []r3.Vec{}
	center := r3.Vec{}
	for _, p := range top {
		w, ok := cam.Unproject(p, WorkingDepth, viewport)
		require.True(t, ok)
		world = append(world, w)
		center = r3.Add(center, w)
	}
	center = r3.Scale(0.25, center)
	radius := 0.0
	for _, w := range world {
		radius = max(radius, r3.Norm(r3.Sub(w, center)))
	}
	require.InDelta(t, radius/boundingRadius(mesh.Bounds())*Damping, tr.Scale, 1e-9)

	// The bottom face of the mesh lands on the top face centroid of the pose
	target := pose.Centroid(top)
	corners := a.WorldCorners()
	bottom := r3.Scale(0.25, r3.Add(r3.Add(corners[0], corners[1]), r3.Add(corners[2], corners[3])))
	p, ok := cam.Project(bottom, viewport)
	require.True(t, ok)
	require.InDelta(t, target.X, p.X, 1e-6)
	require.InDelta(t, target.Y, p.Y, 1e-6)

	// A second update with the same pose is stable
	require.True(t, a.Update(f, viewport))
	tr2 := a.Transform()
	require.InDelta(t, tr.Scale, tr2.Scale, 1e-9)
	require.InDelta(t, tr.Position.X, tr2.Position.X, 1e-9)
	require.InDelta(t, tr.Position.Y, tr2.Position.Y, 1e-9)
	require.InDelta(t, tr.Position.Z, tr2.Position.Z, 1e-9)

	lines := a.Wireframe(viewport)
	require.Equal(t, 12, len(lines))
}

func TestUpdateRejectsUnusablePose(t *testing.T) {
	a := New(&BoxMesh{Size: r3.Vec{X: 1, Y: 1, Z: 1}}, projection.DefaultCamera())
	before := a.Transform()

	require.False(t, a.Update(nil, viewport))

	six := testFrame(t, `{"frame_count":1,"timestamp":"x","projected_points_2d":[[0,0],[1,0],[1,1],[0,1],[2,2],[3,3]],"image_size":[720,1280],"rotation_quaternion":[0,0,0,1]}`)
	require.False(t, a.Update(six, viewport))

	// All corners collapsed onto one point: no derivable rotation
	flat := testFrame(t, `{"frame_count":1,"timestamp":"x","projected_points_2d":[[5,5],[5,5],[5,5],[5,5],[5,5],[5,5],[5,5],[5,5]],"image_size":[720,1280]}`)
	require.False(t, a.Update(flat, viewport))

	require.False(t, a.Update(testFrame(t, frameJSON), pose.Size{}))

	require.Equal(t, before, a.Transform())
	require.Equal(t, int64(0), a.NumUpdates())
}

func TestReset(t *testing.T) {
	a := New(&BoxMesh{Size: r3.Vec{X: 0.2, Y: 0.2, Z: 0.2}}, projection.DefaultCamera())
	initial := a.Transform()
	require.Equal(t, r3.Vec{Z: -WorkingDepth}, initial.Position)
	require.True(t, a.Update(testFrame(t, frameJSON), viewport))
	require.NotEqual(t, initial, a.Transform())
	a.Reset()
	require.Equal(t, initial, a.Transform())
}

func TestWireframeBehindCamera(t *testing.T) {
	a := New(&BoxMesh{Size: r3.Vec{X: 0.2, Y: 0.2, Z: 0.2}}, projection.DefaultCamera())
	require.Equal(t, 12, len(a.Wireframe(viewport)))

	a.transform.Position = r3.Vec{Z: 5}
	require.Equal(t, 0, len(a.Wireframe(viewport)))

	// Straddling the camera plane: the far face is visible, the near face is not
	a.transform.Position = r3.Vec{Z: 0}
	require.Equal(t, 4, len(a.Wireframe(viewport)))
}

// bottomOnScreen projects the centroid of the mesh's bottom face
func bottomOnScreen(t *testing.T, a *Aligner, vp pose.Size) pose.Point {
	corners := a.WorldCorners()
	bottom := r3.Scale(0.25, r3.Add(r3.Add(corners[0], corners[1]), r3.Add(corners[2], corners[3])))
	p, ok := a.Camera().Project(bottom, vp)
	require.True(t, ok)
	return p
}

func TestFitFollowsViewport(t *testing.T) {
	// Off center, so that a mismatched field of view shows up as a shifted wireframe
	f := testFrame(t, `{
		"frame_count": 1,
		"timestamp": "x",
		"projected_points_2d": [[80,300],[200,300],[200,420],[80,420],[80,180],[200,180],[200,300],[80,300]],
		"image_size": [720, 1280],
		"rotation_quaternion": [0, 0, 0, 1]
	}`)
	a := New(&BoxMesh{Size: r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}}, projection.DefaultCamera())
	require.True(t, a.Update(f, pose.Size{Width: 1280, Height: 720}))

	for _, vp := range []pose.Size{{Width: 400, Height: 1000}, {Width: 1280, Height: 720}, {Width: 1000, Height: 1000}} {
		tr, lines := a.Fit(f, vp)
		require.Equal(t, 12, len(lines))
		require.Equal(t, tr, a.Transform())
		target := pose.Centroid(projection.Fit(f.ImageSize, vp).ApplyAll(f.TopFace()))
		p := bottomOnScreen(t, a, vp)
		require.InDelta(t, target.X, p.X, 1e-6, "viewport %v", vp)
		require.InDelta(t, target.Y, p.Y, 1e-6, "viewport %v", vp)
	}

	// Refitting the same pose doesn't count as a new update
	require.Equal(t, int64(1), a.NumUpdates())

	// An unusable pose draws the current transform
	before := a.Transform()
	tr, lines := a.Fit(nil, viewport)
	require.Equal(t, before, tr)
	require.Equal(t, 12, len(lines))
}

func TestUpdateUsesWireDepth(t *testing.T) {
	cam := projection.DefaultCamera()
	mesh := &BoxMesh{Size: r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}}

	plain := New(mesh, cam)
	require.True(t, plain.Update(testFrame(t, frameJSON), viewport))

	withDepth := strings.Replace(frameJSON, `"rotation_quaternion"`, `"translation": [0.05, -0.02, 2], "rotation_quaternion"`, 1)
	f := testFrame(t, withDepth)
	a := New(mesh, cam)
	require.True(t, a.Update(f, viewport))

	// The bottom face sits at the producer's depth
	corners := a.WorldCorners()
	bottom := r3.Scale(0.25, r3.Add(r3.Add(corners[0], corners[1]), r3.Add(corners[2], corners[3])))
	require.InDelta(t, 2.0, -cam.ToCamera(bottom).Z, 1e-6)

	// Four times further away than the working depth, so four times larger
	require.InDelta(t, 4*plain.Transform().Scale, a.Transform().Scale, 1e-6)

	// And it still lines up with the pose on screen
	target := pose.Centroid(projection.Fit(f.ImageSize, viewport).ApplyAll(f.TopFace()))
	p := bottomOnScreen(t, a, viewport)
	require.InDelta(t, target.X, p.X, 1e-6)
	require.InDelta(t, target.Y, p.Y, 1e-6)

	// A depth outside the camera's range is ignored
	tooFar := testFrame(t, strings.Replace(frameJSON, `"rotation_quaternion"`, `"translation": [0, 0, 1000], "rotation_quaternion"`, 1))
	b := New(mesh, cam)
	require.True(t, b.Update(tooFar, viewport))
	require.InDelta(t, plain.Transform().Scale, b.Transform().Scale, 1e-9)
}
