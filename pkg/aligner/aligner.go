// Package aligner places a 3D prop model so that it sits on top of the tracked object.
package aligner

import (
	"math"
	"sync"

	"github.com/cyclopcam/pointer/pkg/overlay"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/pkg/projection"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// WorkingDepth is the camera space depth, in meters, at which observed corners are
	// unprojected to measure the size of the object.
	WorkingDepth = 0.5

	// Damping shrinks the fitted scale so that noisy corners don't make the model balloon.
	Damping = 0.7
)

// Transform is the world transform of the mesh
type Transform struct {
	Orientation pose.Quaternion `json:"orientation"`
	Scale       float64         `json:"scale"`
	Position    r3.Vec          `json:"position"`
}

// Apply transforms a local space point into world space
func (t Transform) Apply(local r3.Vec) r3.Vec {
	return r3.Add(t.Position, projection.Rotate(t.Orientation, r3.Scale(t.Scale, local)))
}

// Aligner owns the transform of one mesh.
// The transform persists between updates, and is only reset by Reset.
type Aligner struct {
	mesh   Mesh
	camera projection.Camera

	lock      sync.Mutex
	transform Transform
	updates   int64
	lastFrame *pose.Frame
}

func New(mesh Mesh, cam projection.Camera) *Aligner {
	a := &Aligner{
		mesh:   mesh,
		camera: cam,
	}
	a.reset()
	return a
}

func (a *Aligner) Camera() projection.Camera {
	return a.camera
}

// Reset puts the mesh back at unit scale, in front of the camera
func (a *Aligner) Reset() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.reset()
}

func (a *Aligner) reset() {
	a.transform = Transform{
		Orientation: pose.IdentityQuaternion(),
		Scale:       1,
		Position:    a.camera.ToWorld(r3.Vec{Z: -WorkingDepth}),
	}
	a.updates = 0
	a.lastFrame = nil
}

// Transform returns a snapshot of the current transform
func (a *Aligner) Transform() Transform {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.transform
}

// NumUpdates returns the number of distinct poses fitted since the last reset
func (a *Aligner) NumUpdates() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.updates
}

// Update fits the mesh to the pose. If the pose is unusable, the transform is left
// untouched and false is returned.
//
// The fit depends on the viewport, because the letterbox and the camera's aspect ratio
// both do. Use Fit when the wireframe is going to be drawn into a specific viewport.
func (a *Aligner) Update(frame *pose.Frame, viewport pose.Size) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.update(frame, viewport)
}

// Fit updates the transform for viewport, and returns it along with the wireframe
// projected into that same viewport. If the pose is unusable, the current transform is
// drawn instead.
func (a *Aligner) Fit(frame *pose.Frame, viewport pose.Size) (Transform, []overlay.Line) {
	a.lock.Lock()
	a.update(frame, viewport)
	t := a.transform
	a.lock.Unlock()
	return t, a.wireframe(t, viewport)
}

// Caller must be holding lock
func (a *Aligner) update(frame *pose.Frame, viewport pose.Size) bool {
	if frame == nil || !frame.HasBox3D() {
		return false
	}
	orientation, ok := frame.Rotation()
	if !ok {
		return false
	}
	lb := projection.Fit(frame.ImageSize, viewport)
	if !lb.Valid() {
		return false
	}

	// HasBox3D guarantees a top face
	ref := lb.ApplyAll(frame.TopFace())
	target := pose.Centroid(ref)

	// A producer that knows the distance to the object lets us measure at the true depth
	measureDepth := WorkingDepth
	wireDepth, haveWireDepth := a.wireDepth(frame)
	if haveWireDepth {
		measureDepth = wireDepth
	}

	observed, ok := a.observedRadius(ref, measureDepth, viewport)
	meshBounds := a.mesh.Bounds()
	meshRadius := boundingRadius(meshBounds)
	if !ok || meshRadius <= 0 || observed <= 0 {
		return false
	}

	next := a.transform
	next.Orientation = orientation
	next.Scale = observed / meshRadius * Damping

	// Move the mesh so that the centroid of its bottom face lands on the target
	corners := BoxCorners(meshBounds)
	bottom := r3.Vec{}
	for _, c := range corners[:4] {
		bottom = r3.Add(bottom, next.Apply(c))
	}
	bottom = r3.Scale(0.25, bottom)
	depth := -a.camera.ToCamera(bottom).Z
	if haveWireDepth {
		depth = wireDepth
	} else if depth <= a.camera.Near {
		depth = WorkingDepth
	}
	anchor, ok := a.camera.Unproject(target, depth, viewport)
	if !ok {
		return false
	}
	next.Position = r3.Add(next.Position, r3.Sub(anchor, bottom))

	a.transform = next
	if frame != a.lastFrame {
		a.updates++
		a.lastFrame = frame
	}
	return true
}

// wireDepth returns the camera space distance to the object, from the pose's translation.
// The sign of Z depends on the producer's axis convention, so only its magnitude is used.
func (a *Aligner) wireDepth(frame *pose.Frame) (float64, bool) {
	p, ok := frame.Position()
	if !ok {
		return 0, false
	}
	d := math.Abs(p.Z)
	if d <= a.camera.Near || d >= a.camera.Far {
		return 0, false
	}
	return d, true
}

// observedRadius unprojects the screen points at depth, and returns the
// largest distance of any of them from their centroid.
func (a *Aligner) observedRadius(screen []pose.Point, depth float64, viewport pose.Size) (float64, bool) {
	world := make([]r3.Vec, 0, len(screen))
	center := r3.Vec{}
	for _, p := range screen {
		w, ok := a.camera.Unproject(p, depth, viewport)
		if !ok {
			return 0, false
		}
		world = append(world, w)
		center = r3.Add(center, w)
	}
	center = r3.Scale(1/float64(len(world)), center)
	radius := 0.0
	for _, w := range world {
		radius = max(radius, r3.Norm(r3.Sub(w, center)))
	}
	return radius, true
}

// WorldCorners returns the mesh's bounding box corners in world space
func (a *Aligner) WorldCorners() [8]r3.Vec {
	return a.worldCorners(a.Transform())
}

func (a *Aligner) worldCorners(t Transform) [8]r3.Vec {
	corners := BoxCorners(a.mesh.Bounds())
	for i := range corners {
		corners[i] = t.Apply(corners[i])
	}
	return corners
}

// Wireframe projects the mesh's bounding box onto the screen.
// Edges touching a corner that is behind the camera are omitted.
func (a *Aligner) Wireframe(viewport pose.Size) []overlay.Line {
	return a.wireframe(a.Transform(), viewport)
}

func (a *Aligner) wireframe(t Transform, viewport pose.Size) []overlay.Line {
	world := a.worldCorners(t)
	screen := make([]pose.Point, len(world))
	visible := make([]bool, len(world))
	for i, w := range world {
		screen[i], visible[i] = a.camera.Project(w, viewport)
	}
	return overlay.BoxLines(screen, visible)
}
