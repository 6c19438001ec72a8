package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cyclopcam/pointer/pkg/rle"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDecodeFailed is wrapped by every error returned from Decode
var ErrDecodeFailed = errors.New("pose decode failed")

// wireFrame is the JSON message sent by the inference service.
// Required fields are pointers so that we can tell "missing" from "zero".
type wireFrame struct {
	FrameCount   *int64       `json:"frame_count"`
	Timestamp    *string      `json:"timestamp"`
	Points       *[][]float64 `json:"projected_points_2d"`
	ImageSize    []float64    `json:"image_size"`
	DetectionBox []float64    `json:"detection_box,omitempty"`
	MaskRLE      []int        `json:"mask_rle,omitempty"`
	MaskShape    []int        `json:"mask_shape,omitempty"`
	Rotation     []float64    `json:"rotation_quaternion,omitempty"`
	Translation  []float64    `json:"translation,omitempty"`
}

func decodeError(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrDecodeFailed, fmt.Sprintf(format, args...))
}

// Decode parses and validates a pose message.
// Any missing or malformed required field causes an error, and no Frame is returned.
func Decode(payload []byte) (*Frame, error) {
	w := wireFrame{}
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, decodeError("%v", err)
	}
	if w.FrameCount == nil {
		return nil, decodeError("missing frame_count")
	}
	if w.Timestamp == nil {
		return nil, decodeError("missing timestamp")
	}
	if w.Points == nil {
		return nil, decodeError("missing projected_points_2d")
	}
	if len(w.ImageSize) != 2 {
		return nil, decodeError("image_size must have 2 elements, not %v", len(w.ImageSize))
	}
	imageSize := Size{Width: w.ImageSize[0], Height: w.ImageSize[1]}
	if !imageSize.Valid() || !finite(imageSize.Width, imageSize.Height) {
		return nil, decodeError("invalid image_size %v x %v", imageSize.Width, imageSize.Height)
	}

	corners := make([]Point, 0, len(*w.Points))
	for i, p := range *w.Points {
		if len(p) != 2 {
			return nil, decodeError("projected point %v has %v elements", i, len(p))
		}
		if !finite(p[0], p[1]) {
			return nil, decodeError("projected point %v is not finite", i)
		}
		corners = append(corners, Point{X: p[0], Y: p[1]})
	}

	f := &Frame{
		FrameCount: *w.FrameCount,
		Timestamp:  *w.Timestamp,
		Corners:    corners,
		ImageSize:  imageSize,
	}

	if w.DetectionBox != nil {
		if len(w.DetectionBox) != 4 {
			return nil, decodeError("detection_box must have 4 elements, not %v", len(w.DetectionBox))
		}
		if !finite(w.DetectionBox...) {
			return nil, decodeError("detection_box is not finite")
		}
		f.DetectionBox = &Box{X1: w.DetectionBox[0], Y1: w.DetectionBox[1], X2: w.DetectionBox[2], Y2: w.DetectionBox[3]}
	}

	// A mask without a shape can't be drawn, but the rest of the frame is still good
	if w.MaskRLE != nil && w.MaskShape != nil {
		if len(w.MaskShape) != 2 || w.MaskShape[0] <= 0 || w.MaskShape[1] <= 0 {
			return nil, decodeError("mask_shape must be 2 positive integers")
		}
		if !rle.ValidShape(w.MaskShape[0], w.MaskShape[1]) {
			return nil, decodeError("mask_shape %v x %v exceeds %v cells", w.MaskShape[0], w.MaskShape[1], rle.MaxCells)
		}
		if len(w.MaskRLE)%2 != 0 {
			return nil, decodeError("mask_rle has odd length %v", len(w.MaskRLE))
		}
		for _, v := range w.MaskRLE {
			if v < 0 {
				return nil, decodeError("mask_rle contains negative value %v", v)
			}
		}
		f.MaskRLE = append([]int{}, w.MaskRLE...)
		f.MaskShape = append([]int{}, w.MaskShape...)
	}

	if w.Rotation != nil {
		if len(w.Rotation) != 4 || !finite(w.Rotation...) {
			return nil, decodeError("rotation_quaternion must be 4 finite numbers")
		}
		q := Quaternion{X: w.Rotation[0], Y: w.Rotation[1], Z: w.Rotation[2], W: w.Rotation[3]}
		if q.Norm() < 1e-9 {
			return nil, decodeError("rotation_quaternion has zero length")
		}
		q = q.Normalized()
		f.WireRotation = &q
	}

	if w.Translation != nil {
		if len(w.Translation) != 3 || !finite(w.Translation...) {
			return nil, decodeError("translation must be 3 finite numbers")
		}
		f.WirePosition = &r3.Vec{X: w.Translation[0], Y: w.Translation[1], Z: w.Translation[2]}
	}

	return f, nil
}

// Encode produces the wire representation of f
func Encode(f *Frame) ([]byte, error) {
	points := make([][]float64, len(f.Corners))
	for i, c := range f.Corners {
		points[i] = []float64{c.X, c.Y}
	}
	w := wireFrame{
		FrameCount: &f.FrameCount,
		Timestamp:  &f.Timestamp,
		Points:     &points,
		ImageSize:  []float64{f.ImageSize.Width, f.ImageSize.Height},
		MaskRLE:    f.MaskRLE,
		MaskShape:  f.MaskShape,
	}
	if f.DetectionBox != nil {
		b := f.DetectionBox
		w.DetectionBox = []float64{b.X1, b.Y1, b.X2, b.Y2}
	}
	if f.WireRotation != nil {
		q := f.WireRotation
		w.Rotation = []float64{q.X, q.Y, q.Z, q.W}
	}
	if f.WirePosition != nil {
		p := f.WirePosition
		w.Translation = []float64{p.X, p.Y, p.Z}
	}
	return json.Marshal(&w)
}

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
