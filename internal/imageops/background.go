package imageops

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
)

// BorderFloodRemover clears the flat backdrop that image generators tend to
// paint behind a character: pixels reachable from the image border whose
// colour is within Tolerance of the dominant border colour become transparent.
type BorderFloodRemover struct {
	Tolerance int
}

func (r BorderFloodRemover) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := imaging.Clone(img)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if w == 0 || h == 0 {
		return dst, nil
	}

	ref := dominantBorderColor(dst)
	tol := r.Tolerance
	matches := func(i int) bool {
		p := dst.Pix[(i/w)*dst.Stride+(i%w)*4:]
		return absDiff(p[0], ref[0]) <= tol && absDiff(p[1], ref[1]) <= tol && absDiff(p[2], ref[2]) <= tol
	}

	labels := make([]int32, w*h)
	stack := make([]int, 0, 256)
	seed := func(x, y int) {
		i := y*w + x
		if labels[i] == 0 && matches(i) {
			flood(w, h, i, 1, labels, matches, &stack)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}

	for i, l := range labels {
		if l != 0 {
			o := (i/w)*dst.Stride + (i%w)*4
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = 0, 0, 0, 0
		}
	}
	return dst, nil
}

// dominantBorderColor returns the most frequent border colour after dropping
// the low 3 bits of each channel.
func dominantBorderColor(img *image.NRGBA) [3]uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	counts := make(map[[3]uint8]int)
	var best [3]uint8
	bestN := 0
	visit := func(x, y int) {
		p := img.Pix[y*img.Stride+x*4:]
		k := [3]uint8{p[0] &^ 7, p[1] &^ 7, p[2] &^ 7}
		counts[k]++
		if counts[k] > bestN {
			best, bestN = [3]uint8{p[0], p[1], p[2]}, counts[k]
		}
	}
	for x := 0; x < w; x++ {
		visit(x, 0)
		visit(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		visit(0, y)
		visit(w-1, y)
	}
	return best
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
