package overlay

import (
	"github.com/chewxy/math32"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/pkg/projection"
	"gonum.org/v1/gonum/spatial/r3"
)

// Arrow length, as a fraction of the mean distance from the box centroid to its corners
const ArrowLengthFactor = 0.5

var axisLabels = [3]string{"+X", "+Y", "+Z"}

// Render produces the draw list for one frame. frame may be nil.
func Render(frame *pose.Frame, viewport pose.Size, toggles Toggles) *DrawList {
	dl := &DrawList{
		Width:   float32(viewport.Width),
		Height:  float32(viewport.Height),
		Lines:   []Line{},
		Markers: []Marker{},
		Arrows:  []Arrow{},
		Rects:   []Rect{},
	}
	if frame == nil {
		return dl
	}
	lb := projection.Fit(frame.ImageSize, viewport)
	if !lb.Valid() {
		return dl
	}
	dl.Video = lb

	if toggles.Box3D && frame.HasBox3D() {
		renderBox3D(dl, frame, lb)
	}
	if toggles.DetectionBox && frame.DetectionBox != nil {
		b := frame.DetectionBox
		p1 := lb.Apply(pose.Point{X: b.X1, Y: b.Y1})
		p2 := lb.Apply(pose.Point{X: b.X2, Y: b.Y2})
		dl.Rects = append(dl.Rects, Rect{
			X1: float32(min(p1.X, p2.X)),
			Y1: float32(min(p1.Y, p2.Y)),
			X2: float32(max(p1.X, p2.X)),
			Y2: float32(max(p1.Y, p2.Y)),
		})
	}
	if toggles.Mask {
		if m := frame.Mask(); m != nil {
			// The mask grid may have a different resolution to the video, but we assume
			// the two are co-registered, so it is placed with the video's letterbox.
			dl.Mask = &MaskLayer{
				Width:  m.Width,
				Height: m.Height,
				Bits:   m.Bits,
				X:      float32(lb.OffsetX),
				Y:      float32(lb.OffsetY),
				Scale:  float32(lb.Scale),
				Color:  DefaultMaskColor,
			}
		}
	}
	return dl
}

func renderBox3D(dl *DrawList, frame *pose.Frame, lb projection.Letterbox) {
	pts := lb.ApplyAll(frame.Corners)
	dl.Lines = append(dl.Lines, BoxLines(pts, nil)...)
	for i, p := range pts {
		dl.Markers = append(dl.Markers, Marker{X: float32(p.X), Y: float32(p.Y), Index: i})
	}

	q, ok := frame.Rotation()
	if !ok {
		return
	}
	c := pose.Centroid(pts)
	cx, cy := float32(c.X), float32(c.Y)
	meanDist := float32(0)
	for _, p := range pts {
		meanDist += float32(p.Distance(c))
	}
	meanDist /= float32(len(pts))
	length := meanDist * ArrowLengthFactor

	right, up, forward := projection.Axes(q)
	for i, axis := range []r3.Vec{right, up, forward} {
		// Screen y points down
		dx, dy := float32(axis.X), float32(-axis.Y)
		n := hypot(dx, dy)
		a := Arrow{X1: cx, Y1: cy, X2: cx, Y2: cy, Label: axisLabels[i]}
		if n > 1e-6 {
			a.X2 = cx + dx/n*length
			a.Y2 = cy + dy/n*length
		}
		dl.Arrows = append(dl.Arrows, a)
	}
}

// BoxLines produces the 12 wireframe edges of a box from its 8 screen space corners.
// If visible is not nil, then edges touching an invisible corner are omitted.
func BoxLines(corners []pose.Point, visible []bool) []Line {
	if len(corners) != pose.NumCorners {
		return nil
	}
	lines := make([]Line, 0, len(pose.BoxEdges))
	for i, e := range pose.BoxEdges {
		if visible != nil && (!visible[e[0]] || !visible[e[1]]) {
			continue
		}
		a, b := corners[e[0]], corners[e[1]]
		lines = append(lines, Line{
			X1:   float32(a.X),
			Y1:   float32(a.Y),
			X2:   float32(b.X),
			Y2:   float32(b.Y),
			Kind: EdgeKind(i / 4),
		})
	}
	return lines
}

func hypot(x, y float32) float32 {
	return math32.Hypot(x, y)
}
