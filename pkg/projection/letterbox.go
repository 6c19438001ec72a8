// Package projection holds the stateless math that maps pose data into screen space:
// letterbox fitting, quaternion rotation, and perspective projection/unprojection.
package projection

import "github.com/cyclopcam/pointer/pkg/pose"

// Letterbox is a uniform scale followed by an offset, which maps a source rectangle
// into a destination rectangle without distortion.
type Letterbox struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Fit computes the aspect-fit letterbox of src inside dst.
// If dst is relatively wider than src, we scale by height and center horizontally.
// Otherwise we scale by width and center vertically.
// If either size is empty, the zero Letterbox is returned, which Valid() reports as false.
func Fit(src, dst pose.Size) Letterbox {
	if !src.Valid() || !dst.Valid() {
		return Letterbox{}
	}
	if dst.Width/dst.Height > src.Width/src.Height {
		scale := dst.Height / src.Height
		return Letterbox{
			Scale:   scale,
			OffsetX: (dst.Width - src.Width*scale) / 2,
		}
	}
	scale := dst.Width / src.Width
	return Letterbox{
		Scale:   scale,
		OffsetY: (dst.Height - src.Height*scale) / 2,
	}
}

func (l Letterbox) Valid() bool {
	return l.Scale > 0
}

// Apply maps a point from source space into destination space
func (l Letterbox) Apply(p pose.Point) pose.Point {
	return pose.Point{
		X: p.X*l.Scale + l.OffsetX,
		Y: p.Y*l.Scale + l.OffsetY,
	}
}

// ApplyAll maps every point in src
func (l Letterbox) ApplyAll(src []pose.Point) []pose.Point {
	dst := make([]pose.Point, len(src))
	for i, p := range src {
		dst[i] = l.Apply(p)
	}
	return dst
}

// Invert maps a point from destination space back into source space
func (l Letterbox) Invert(p pose.Point) pose.Point {
	if l.Scale == 0 {
		return pose.Point{}
	}
	return pose.Point{
		X: (p.X - l.OffsetX) / l.Scale,
		Y: (p.Y - l.OffsetY) / l.Scale,
	}
}
