// Package overlay turns a pose frame into screen space drawing primitives.
// Render is a pure function of its inputs, and is intended to be called once per display refresh.
package overlay

import (
	"fmt"
	"image/color"

	"github.com/cyclopcam/pointer/pkg/projection"
)

type EdgeKind int

const (
	EdgeBottom EdgeKind = iota
	EdgeTop
	EdgeVertical
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeBottom:
		return "bottom"
	case EdgeTop:
		return "top"
	case EdgeVertical:
		return "vertical"
	}
	return "unknown"
}

func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EdgeKind) UnmarshalText(b []byte) error {
	for _, v := range []EdgeKind{EdgeBottom, EdgeTop, EdgeVertical} {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("Unknown edge kind '%v'", string(b))
}

// Line is one edge of a box wireframe
type Line struct {
	X1   float32  `json:"x1"`
	Y1   float32  `json:"y1"`
	X2   float32  `json:"x2"`
	Y2   float32  `json:"y2"`
	Kind EdgeKind `json:"kind"`
}

// Marker is a dot on one corner of the box
type Marker struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Index int     `json:"index"`
}

// Arrow is an orientation arrow, starting at (X1,Y1)
type Arrow struct {
	X1    float32 `json:"x1"`
	Y1    float32 `json:"y1"`
	X2    float32 `json:"x2"`
	Y2    float32 `json:"y2"`
	Label string  `json:"label"`
}

func (a *Arrow) Length() float32 {
	return hypot(a.X2-a.X1, a.Y2-a.Y1)
}

// Rect is an axis aligned rectangle with X1 <= X2 and Y1 <= Y2
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// MaskLayer is a binary mask image, drawn at (X,Y) and uniformly scaled by Scale.
// Bits is row-major, Width * Height bytes, non-zero for foreground.
type MaskLayer struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Bits   []byte      `json:"bits"`
	X      float32     `json:"x"`
	Y      float32     `json:"y"`
	Scale  float32     `json:"scale"`
	Color  color.NRGBA `json:"color"`
}

// DrawList is everything that must be drawn on top of one video frame
type DrawList struct {
	Width   float32              `json:"width"`
	Height  float32              `json:"height"`
	Video   projection.Letterbox `json:"video"` // Placement of the video inside the viewport
	Lines   []Line               `json:"lines"`
	Markers []Marker             `json:"markers"`
	Arrows  []Arrow              `json:"arrows"`
	Rects   []Rect               `json:"rects"`
	Mask    *MaskLayer           `json:"mask,omitempty"`
}

// IsEmpty is true if there is nothing to draw
func (d *DrawList) IsEmpty() bool {
	return len(d.Lines) == 0 && len(d.Markers) == 0 && len(d.Arrows) == 0 && len(d.Rects) == 0 && d.Mask == nil
}

// Toggles enable the independent parts of the overlay
type Toggles struct {
	DetectionBox bool `json:"detectionBox"`
	Mask         bool `json:"mask"`
	Box3D        bool `json:"box3D"`
}

func AllToggles() Toggles {
	return Toggles{DetectionBox: true, Mask: true, Box3D: true}
}

var DefaultMaskColor = color.NRGBA{R: 0, G: 190, B: 255, A: 110}
