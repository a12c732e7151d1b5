package imageops

import (
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// Anchor is the corner a foreground or label is placed against.
type Anchor string

const (
	BottomRight Anchor = "bottom-right"
	BottomLeft  Anchor = "bottom-left"
	TopRight    Anchor = "top-right"
	TopLeft     Anchor = "top-left"
)

// ParseAnchor maps a configured position onto an Anchor. Unknown values fall
// back to def.
func ParseAnchor(s string, def Anchor) Anchor {
	switch a := Anchor(strings.ToLower(strings.TrimSpace(s))); a {
	case BottomRight, BottomLeft, TopRight, TopLeft:
		return a
	}
	return def
}

// place returns the top-left origin for a w x h box anchored in a bw x bh
// canvas with the given margins.
func place(anchor Anchor, bw, bh, w, h, mx, my int) image.Point {
	switch anchor {
	case BottomLeft:
		return image.Pt(mx, bh-h-my)
	case TopRight:
		return image.Pt(bw-w-mx, my)
	case TopLeft:
		return image.Pt(mx, my)
	default:
		return image.Pt(bw-w-mx, bh-h-my)
	}
}

// CompositeOptions controls Composite.
type CompositeOptions struct {
	Scale          float64 // foreground height as a fraction of background height
	Anchor         Anchor
	MarginFraction float64 // margin as a fraction of each background dimension
}

// DefaultCompositeOptions places the foreground at 30% height, bottom-right, 5% margin.
func DefaultCompositeOptions() CompositeOptions {
	return CompositeOptions{Scale: 0.3, Anchor: BottomRight, MarginFraction: 0.05}
}

// Composite alpha-blends fg onto bg. The output has bg's size.
func Composite(bg, fg image.Image, opts CompositeOptions) *image.NRGBA {
	if opts.Scale <= 0 {
		opts.Scale = 0.3
	}
	if opts.MarginFraction < 0 {
		opts.MarginFraction = 0
	}
	anchor := ParseAnchor(string(opts.Anchor), BottomRight)

	bw, bh := bg.Bounds().Dx(), bg.Bounds().Dy()
	fw, fh := fg.Bounds().Dx(), fg.Bounds().Dy()
	if fw == 0 || fh == 0 {
		return imaging.Clone(bg)
	}

	h := int(float64(bh) * opts.Scale)
	if h < 1 {
		h = 1
	}
	w := int(float64(h) * float64(fw) / float64(fh))
	if w < 1 {
		w = 1
	}
	resized := imaging.Resize(fg, w, h, imaging.Lanczos)

	mx := int(float64(bw) * opts.MarginFraction)
	my := int(float64(bh) * opts.MarginFraction)
	return imaging.Overlay(bg, resized, place(anchor, bw, bh, w, h, mx, my), 1.0)
}
