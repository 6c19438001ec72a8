package overlay

import (
	"image"
	"image/color"
	"io"

	"github.com/chewxy/math32"
	"github.com/fogleman/gg"
)

var (
	edgeColors = map[EdgeKind]color.Color{
		EdgeBottom:   color.NRGBA{R: 255, G: 60, B: 60, A: 255},
		EdgeTop:      color.NRGBA{R: 60, G: 255, B: 60, A: 255},
		EdgeVertical: color.NRGBA{R: 255, G: 220, B: 0, A: 255},
	}
	axisColors = map[string]color.Color{
		"+X": color.NRGBA{R: 255, A: 255},
		"+Y": color.NRGBA{G: 255, A: 255},
		"+Z": color.NRGBA{B: 255, A: 255},
	}
	markerColor = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	rectColor   = color.NRGBA{R: 0, G: 255, B: 255, A: 255}
)

// Rasterize draws the list onto an image of the list's size.
// If background is not nil, it is the video frame, and it is drawn letterboxed underneath.
func Rasterize(dl *DrawList, background image.Image) image.Image {
	dc := gg.NewContext(max(1, int(dl.Width)), max(1, int(dl.Height)))
	Draw(dc, dl, background)
	return dc.Image()
}

// EncodePNG rasterizes the draw list and writes it as a PNG
func EncodePNG(w io.Writer, dl *DrawList, background image.Image) error {
	dc := gg.NewContext(max(1, int(dl.Width)), max(1, int(dl.Height)))
	Draw(dc, dl, background)
	return dc.EncodePNG(w)
}

// Draw renders the list into an existing context
func Draw(dc *gg.Context, dl *DrawList, background image.Image) {
	if background != nil && dl.Video.Valid() {
		dc.Push()
		dc.Translate(dl.Video.OffsetX, dl.Video.OffsetY)
		dc.Scale(dl.Video.Scale, dl.Video.Scale)
		dc.DrawImage(background, 0, 0)
		dc.Pop()
	}

	if m := dl.Mask; m != nil && m.Width > 0 && m.Height > 0 {
		dc.Push()
		dc.Translate(float64(m.X), float64(m.Y))
		dc.Scale(float64(m.Scale), float64(m.Scale))
		dc.DrawImage(MaskImage(m), 0, 0)
		dc.Pop()
	}

	dc.SetLineWidth(2)
	for _, r := range dl.Rects {
		dc.SetColor(rectColor)
		dc.DrawRectangle(float64(r.X1), float64(r.Y1), float64(r.X2-r.X1), float64(r.Y2-r.Y1))
		dc.Stroke()
	}

	for _, l := range dl.Lines {
		dc.SetColor(edgeColors[l.Kind])
		dc.DrawLine(float64(l.X1), float64(l.Y1), float64(l.X2), float64(l.Y2))
		dc.Stroke()
	}

	dc.SetColor(markerColor)
	for _, m := range dl.Markers {
		dc.DrawCircle(float64(m.X), float64(m.Y), 4)
		dc.Fill()
	}

	dc.SetLineWidth(3)
	for _, a := range dl.Arrows {
		dc.SetColor(axisColors[a.Label])
		drawArrow(dc, a)
		dc.DrawStringAnchored(a.Label, float64(a.X2), float64(a.Y2), 0.5, -0.5)
	}
}

func drawArrow(dc *gg.Context, a Arrow) {
	length := a.Length()
	if length < 1 {
		return
	}
	dc.DrawLine(float64(a.X1), float64(a.Y1), float64(a.X2), float64(a.Y2))
	dc.Stroke()
	head := min(12, length*0.3)
	angle := math32.Atan2(a.Y2-a.Y1, a.X2-a.X1)
	for _, side := range []float32{-1, 1} {
		theta := angle + math32.Pi + side*math32.Pi/7
		dc.DrawLine(float64(a.X2), float64(a.Y2), float64(a.X2+head*math32.Cos(theta)), float64(a.Y2+head*math32.Sin(theta)))
		dc.Stroke()
	}
}

// MaskImage converts a mask layer into a translucent image, transparent where the mask is empty
func MaskImage(m *MaskLayer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x
			if i < len(m.Bits) && m.Bits[i] != 0 {
				img.SetNRGBA(x, y, m.Color)
			}
		}
	}
	return img
}
