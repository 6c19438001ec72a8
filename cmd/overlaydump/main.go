// overlaydump renders a captured pose message to a PNG, for debugging the overlay offline.
//
// Example: overlaydump -i pose.json -b frame.jpg -o overlay.png
package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/aligner"
	"github.com/cyclopcam/pointer/pkg/overlay"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/pkg/projection"
)

func check(log logs.Log, err error) {
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("overlaydump", "Render a pose message to a PNG")
	input := parser.String("i", "input", &argparse.Options{Help: "Pose message (JSON). '-' for stdin", Default: "-"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output PNG", Default: "overlay.png"})
	background := parser.String("b", "background", &argparse.Options{Help: "Video frame to draw underneath (JPEG or PNG)", Default: ""})
	width := parser.Int("", "width", &argparse.Options{Help: "Viewport width. Defaults to the background, or the pose's image size", Default: 0})
	height := parser.Int("", "height", &argparse.Options{Help: "Viewport height", Default: 0})
	modelFile := parser.String("", "model", &argparse.Options{Help: "OBJ file to fit to the pose, and draw as a wireframe", Default: ""})
	noMask := parser.Flag("", "nomask", &argparse.Options{Help: "Don't draw the segmentation mask", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	log, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	var raw []byte
	if *input == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*input)
	}
	check(log, err)
	frame, err := pose.Decode(raw)
	check(log, err)

	var bg image.Image
	if *background != "" {
		f, err := os.Open(*background)
		check(log, err)
		bg, _, err = image.Decode(f)
		f.Close()
		check(log, err)
	}

	vp := frame.ImageSize
	if bg != nil {
		vp = pose.Size{Width: float64(bg.Bounds().Dx()), Height: float64(bg.Bounds().Dy())}
	}
	if *width > 0 && *height > 0 {
		vp = pose.Size{Width: float64(*width), Height: float64(*height)}
	}

	toggles := overlay.AllToggles()
	toggles.Mask = !*noMask
	dl := overlay.Render(frame, vp, toggles)

	if *modelFile != "" {
		f, err := os.Open(*modelFile)
		check(log, err)
		mesh, err := aligner.LoadOBJ(f)
		f.Close()
		check(log, err)
		a := aligner.New(mesh, projection.DefaultCamera())
		if !frame.HasBox3D() {
			log.Warnf("Pose has no usable 3D box. Drawing the model at its rest position")
		}
		t, wireframe := a.Fit(frame, vp)
		dl.Lines = append(dl.Lines, wireframe...)
		log.Infof("Model position %.3f,%.3f,%.3f scale %.3f", t.Position.X, t.Position.Y, t.Position.Z, t.Scale)
	}

	out, err := os.Create(*output)
	check(log, err)
	check(log, overlay.EncodePNG(out, dl, bg))
	check(log, out.Close())
	log.Infof("Frame %v: wrote %v (%v lines, %v arrows)", frame.FrameCount, *output, len(dl.Lines), len(dl.Arrows))
}
