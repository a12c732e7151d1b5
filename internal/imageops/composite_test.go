package imageops

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	fillRect(img, img.Rect, c)
	return img
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r > 0xf000 && g < 0x1000 && b < 0x1000
}

func TestCompositeBottomRightPlacement(t *testing.T) {
	bg := solid(1000, 1000, color.NRGBA{B: 255, A: 255})
	fg := solid(100, 100, opaqueRed)

	out := Composite(bg, fg, DefaultCompositeOptions())

	assert.Equal(t, bg.Bounds(), out.Bounds())
	// 300x300 foreground, origin (1000-300-50, 1000-300-50).
	assert.True(t, isRed(out.At(650, 650)))
	assert.True(t, isRed(out.At(949, 949)))
	assert.False(t, isRed(out.At(649, 649)))
	assert.False(t, isRed(out.At(950, 950)))
}

func TestCompositeAnchors(t *testing.T) {
	bg := solid(1000, 500, color.NRGBA{B: 255, A: 255})
	fg := solid(50, 100, opaqueRed) // resized to 75x150

	cases := []struct {
		anchor Anchor
		at     image.Point
	}{
		{TopLeft, image.Pt(50, 25)},
		{TopRight, image.Pt(1000-75-50, 25)},
		{BottomLeft, image.Pt(50, 500-150-25)},
		{Anchor("sideways"), image.Pt(1000-75-50, 500-150-25)},
	}
	for _, tc := range cases {
		out := Composite(bg, fg, CompositeOptions{Scale: 0.3, Anchor: tc.anchor, MarginFraction: 0.05})
		assert.True(t, isRed(out.At(tc.at.X, tc.at.Y)), "anchor %s", tc.anchor)
		assert.False(t, isRed(out.At(tc.at.X-1, tc.at.Y-1)), "anchor %s", tc.anchor)
	}
}

func TestCompositeKeepsTransparentForegroundPixels(t *testing.T) {
	bg := solid(100, 100, color.NRGBA{B: 255, A: 255})
	fg := image.NewNRGBA(image.Rect(0, 0, 30, 30))

	out := Composite(bg, fg, DefaultCompositeOptions())
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, out.NRGBAAt(80, 80))
}

func TestParseAnchor(t *testing.T) {
	assert.Equal(t, TopLeft, ParseAnchor(" Top-Left ", BottomRight))
	assert.Equal(t, BottomRight, ParseAnchor("", BottomRight))
	assert.Equal(t, BottomLeft, ParseAnchor("nowhere", BottomLeft))
}
