// Package pose holds the per-frame pose estimate of a tracked object, as produced by the
// inference service once per cycle, and the codec for its wire format.
package pose

import (
	"math"
	"sync"

	"github.com/cyclopcam/pointer/pkg/rle"
	"gonum.org/v1/gonum/spatial/r3"
)

// Number of projected corners in a complete oriented box
const NumCorners = 8

// BoxEdges are the 12 corner index pairs that form the wireframe of an oriented box.
// Corners 0-3 are the bottom face, 4-7 the top face.
var BoxEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0}, // bottom
	{4, 5}, {5, 6}, {6, 7}, {7, 4}, // top
	{0, 4}, {1, 5}, {2, 6}, {3, 7}, // verticals
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(b Point) Point {
	return Point{X: p.X + b.X, Y: p.Y + b.Y}
}

func (p Point) Sub(b Point) Point {
	return Point{X: p.X - b.X, Y: p.Y - b.Y}
}

func (p Point) Scale(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s}
}

func (p Point) Distance(b Point) float64 {
	return math.Hypot(p.X-b.X, p.Y-b.Y)
}

// Centroid returns the average of points. The zero point is returned for an empty list.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	c := Point{}
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	return c.Scale(1 / float64(len(points)))
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Size) Aspect() float64 {
	if s.Height == 0 {
		return 0
	}
	return s.Width / s.Height
}

// Box is an axis-aligned rectangle given by two corners
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Quaternion is an orientation in (x, y, z, w) order
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalized returns q scaled to unit length. A zero quaternion becomes the identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 {
		return IdentityQuaternion()
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Rotation converts q into a gonum rotation
func (q Quaternion) Rotation() r3.Rotation {
	n := q.Normalized()
	return r3.Rotation{Real: n.W, Imag: n.X, Jmag: n.Y, Kmag: n.Z}
}

// Mask is a dense binary segmentation mask, stored row-major, one byte per cell
type Mask struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bits    []byte `json:"-"`
	Dropped int    `json:"dropped"` // Cells from runs that fell outside the grid
}

func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x] != 0
}

// Count returns the number of foreground cells
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b != 0 {
			n++
		}
	}
	return n
}

// Frame is one decoded pose message. A Frame is immutable once decoded, and may be
// shared between goroutines.
type Frame struct {
	FrameCount   int64       `json:"frameCount"`
	Timestamp    string      `json:"timestamp"`
	Corners      []Point     `json:"corners"`
	ImageSize    Size        `json:"imageSize"`
	DetectionBox *Box        `json:"detectionBox,omitempty"`
	MaskRLE      []int       `json:"maskRLE,omitempty"`
	MaskShape    []int       `json:"maskShape,omitempty"` // [height, width]
	WireRotation *Quaternion `json:"rotation,omitempty"`
	WirePosition *r3.Vec     `json:"position,omitempty"`

	maskOnce sync.Once
	mask     *Mask
}

// HasBox3D is true if the frame has exactly the 8 corners needed for a 3D overlay
func (f *Frame) HasBox3D() bool {
	return len(f.Corners) == NumCorners
}

// BottomFace returns corners 0-3, or nil if the frame has no 3D box
func (f *Frame) BottomFace() []Point {
	if !f.HasBox3D() {
		return nil
	}
	return f.Corners[0:4]
}

// TopFace returns corners 4-7, or nil if the frame has no 3D box
func (f *Frame) TopFace() []Point {
	if !f.HasBox3D() {
		return nil
	}
	return f.Corners[4:8]
}

// HasMask is true if the frame carries a segmentation mask
func (f *Frame) HasMask() bool {
	return f.MaskRLE != nil && len(f.MaskShape) == 2
}

// Mask decodes the run-length encoded mask. Returns nil if the frame has no mask.
// The result is computed once and cached.
func (f *Frame) Mask() *Mask {
	if !f.HasMask() {
		return nil
	}
	f.maskOnce.Do(func() {
		height, width := f.MaskShape[0], f.MaskShape[1]
		bits, dropped := rle.DecodeMask(f.MaskRLE, height, width)
		if bits == nil {
			return
		}
		f.mask = &Mask{
			Width:   width,
			Height:  height,
			Bits:    bits,
			Dropped: dropped,
		}
	})
	return f.mask
}

// Rotation returns the orientation of the tracked object.
// If the producer sent an explicit quaternion, that is used. Otherwise the orientation
// is derived from the corner geometry, which is not always possible.
func (f *Frame) Rotation() (Quaternion, bool) {
	if f.WireRotation != nil {
		return f.WireRotation.Normalized(), true
	}
	if !f.HasBox3D() {
		return Quaternion{}, false
	}
	return RotationFromCorners(f.Corners)
}

// Position returns the 3D translation of the tracked object in meters, if the producer sent one.
func (f *Frame) Position() (r3.Vec, bool) {
	if f.WirePosition == nil {
		return r3.Vec{}, false
	}
	return *f.WirePosition, true
}
