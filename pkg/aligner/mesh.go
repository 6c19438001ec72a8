package aligner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is a 3D prop model. We only need its local space bounds, at unit scale.
type Mesh interface {
	Bounds() r3.Box
}

// BoxMesh is a cuboid centered on the origin
type BoxMesh struct {
	Size r3.Vec
}

func (b *BoxMesh) Bounds() r3.Box {
	half := r3.Scale(0.5, b.Size)
	return r3.Box{Min: r3.Scale(-1, half), Max: half}
}

// VertexMesh is a mesh described by its vertices
type VertexMesh struct {
	Vertices []r3.Vec
	bounds   r3.Box
}

func NewVertexMesh(vertices []r3.Vec) *VertexMesh {
	m := &VertexMesh{Vertices: vertices}
	for i, v := range vertices {
		if i == 0 {
			m.bounds = r3.Box{Min: v, Max: v}
			continue
		}
		m.bounds.Min = r3.Vec{X: min(m.bounds.Min.X, v.X), Y: min(m.bounds.Min.Y, v.Y), Z: min(m.bounds.Min.Z, v.Z)}
		m.bounds.Max = r3.Vec{X: max(m.bounds.Max.X, v.X), Y: max(m.bounds.Max.Y, v.Y), Z: max(m.bounds.Max.Z, v.Z)}
	}
	return m
}

func (m *VertexMesh) Bounds() r3.Box {
	return m.bounds
}

var ErrNoVertices = errors.New("mesh has no vertices")

// LoadOBJ reads the vertex positions of a Wavefront OBJ file.
// Everything except 'v' lines is ignored.
func LoadOBJ(r io.Reader) (*VertexMesh, error) {
	vertices := []r3.Vec{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "v" {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %v: vertex needs 3 coordinates", lineNo)
		}
		var xyz [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %v: %w", lineNo, err)
			}
			xyz[i] = v
		}
		vertices = append(vertices, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(vertices) == 0 {
		return nil, ErrNoVertices
	}
	return NewVertexMesh(vertices), nil
}

// BoxCorners returns the 8 corners of a box, in the same order as pose corners:
// 0-3 is the bottom (min Y) face, 4-7 the top face, 0→1 is +X, 0→3 is +Z.
func BoxCorners(b r3.Box) [8]r3.Vec {
	lo, hi := b.Min, b.Max
	return [8]r3.Vec{
		{X: lo.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z},
		{X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z},
		{X: lo.X, Y: hi.Y, Z: hi.Z},
	}
}

// boundingRadius is the distance from the center of the box to its corners
func boundingRadius(b r3.Box) float64 {
	return r3.Norm(r3.Sub(b.Max, b.Min)) / 2
}
