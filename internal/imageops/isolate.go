package imageops

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// AlphaThreshold is the exclusive lower bound for a pixel to count as foreground.
	AlphaThreshold = 128
	// PaddingFraction pads the selected region's box on each side.
	PaddingFraction = 0.05
)

// BackgroundRemover produces a transparency channel for a photographic raster.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, img image.Image) (image.Image, error)
}

// Isolation is the transient result of isolating the largest character.
type Isolation struct {
	Image   image.Image
	Bounds  image.Rectangle // crop rectangle in source coordinates
	Regions int
	Pixels  int // pixel count of the selected region
}

// Isolator extracts the single largest opaque region of a raster.
type Isolator struct {
	Remover BackgroundRemover
}

// NewIsolator returns an isolator that falls back to remover when the input
// has no usable transparency.
func NewIsolator(remover BackgroundRemover) *Isolator {
	return &Isolator{Remover: remover}
}

// Isolate keeps only the largest 8-connected region with alpha above
// AlphaThreshold and crops to its padded bounding box. With no regions the
// input is returned unchanged.
func (iso *Isolator) Isolate(ctx context.Context, img image.Image) (Isolation, error) {
	src := imaging.Clone(img)
	if fullyOpaque(src) {
		if iso.Remover == nil {
			return Isolation{}, fmt.Errorf("isolate: image has no transparency and no background remover is configured")
		}
		cut, err := iso.Remover.RemoveBackground(ctx, src)
		if err != nil {
			return Isolation{}, fmt.Errorf("remove background: %w", err)
		}
		src = imaging.Clone(cut)
	}

	w, h := src.Rect.Dx(), src.Rect.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			mask[y*w+x] = row[x*4+3] > AlphaThreshold
		}
	}

	comps := LabelComponents(mask, w, h)
	label := comps.Largest()
	if label == 0 {
		return Isolation{Image: img, Bounds: img.Bounds()}, nil
	}

	crop := padBox(comps.Boxes[label-1], src.Rect)
	out := image.NewNRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	for y := crop.Min.Y; y < crop.Max.Y; y++ {
		for x := crop.Min.X; x < crop.Max.X; x++ {
			if comps.Labels[y*w+x] != int32(label) {
				continue
			}
			si := y*src.Stride + x*4
			di := (y-crop.Min.Y)*out.Stride + (x-crop.Min.X)*4
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}

	return Isolation{
		Image:   out,
		Bounds:  crop,
		Regions: comps.Count(),
		Pixels:  comps.Sizes[label-1],
	}, nil
}

// padBox grows box by PaddingFraction of its size on each side, rounding up,
// and clamps the result to bounds.
func padBox(box, bounds image.Rectangle) image.Rectangle {
	px := int(math.Ceil(float64(box.Dx()) * PaddingFraction))
	py := int(math.Ceil(float64(box.Dy()) * PaddingFraction))
	return image.Rect(box.Min.X-px, box.Min.Y-py, box.Max.X+px, box.Max.Y+py).Intersect(bounds)
}

func fullyOpaque(img *image.NRGBA) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 3; x < len(row); x += 4 {
			if row[x] != 0xff {
				return false
			}
		}
	}
	return true
}
