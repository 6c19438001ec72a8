// Package rle encodes and decodes binary segmentation masks as (start, length) runs.
//
// The mask is a row-major grid of height*width cells. Only foreground runs are listed;
// every cell that is not covered by a run is background.
package rle

import "math"

// MaxCells is the largest grid that DecodeMask will allocate
const MaxCells = 4096 * 4096

// ValidShape is true if a height x width grid is non-empty and no larger than MaxCells
func ValidShape(height, width int) bool {
	return height > 0 && width > 0 && height <= MaxCells/width
}

// DecodeMask expands runs into a dense bitmap of height*width cells (1 = foreground).
// Runs that extend past the end of the grid are truncated. The number of cells that were
// dropped because they fell outside the grid is returned alongside the bitmap.
// A trailing unpaired value is ignored. If the shape is not valid, nil is returned.
func DecodeMask(runs []int, height, width int) ([]byte, int) {
	if !ValidShape(height, width) {
		return nil, 0
	}
	total := height * width
	bits := make([]byte, total)
	dropped := 0
	for i := 0; i+1 < len(runs); i += 2 {
		start := runs[i]
		length := runs[i+1]
		if length <= 0 {
			continue
		}
		if start < 0 {
			cut := length
			if start > -length {
				cut = -start
			}
			dropped = addClamped(dropped, cut)
			length -= cut
			start = 0
		}
		if start >= total {
			dropped = addClamped(dropped, length)
			continue
		}
		n := min(length, total-start)
		dropped = addClamped(dropped, length-n)
		for j := start; j < start+n; j++ {
			bits[j] = 1
		}
	}
	return bits, dropped
}

func addClamped(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

// EncodeMask produces the (start, length) runs of every non-zero stretch of bitmap.
func EncodeMask(bitmap []byte) []int {
	runs := []int{}
	start := -1
	for i, b := range bitmap {
		if b != 0 {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			runs = append(runs, start, i-start)
			start = -1
		}
	}
	if start != -1 {
		runs = append(runs, start, len(bitmap)-start)
	}
	return runs
}
