package imageops

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// WatermarkMargin is the fixed distance between the label and the image edges.
const WatermarkMargin = 20

// Watermarker stamps a translucent label onto a raster.
type Watermarker struct {
	Text    string
	Anchor  Anchor
	Opacity float64
	Face    font.Face
}

// NewWatermarker builds a watermarker, loading the TrueType/OpenType font at
// fontPath. If the font cannot be loaded the built-in 7x13 glyph set is used.
func NewWatermarker(text string, anchor Anchor, opacity float64, fontPath string, size float64) (*Watermarker, error) {
	face, err := LoadFace(fontPath, size)
	wm := &Watermarker{Text: text, Anchor: anchor, Opacity: opacity, Face: face}
	return wm, err
}

// LoadFace returns a face for the font at path, or basicfont.Face7x13 together
// with the load error when the file is missing or unreadable.
func LoadFace(path string, size float64) (font.Face, error) {
	if path == "" {
		return basicfont.Face7x13, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return basicfont.Face7x13, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return basicfont.Face7x13, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return basicfont.Face7x13, fmt.Errorf("font face: %w", err)
	}
	return face, nil
}

// Apply returns a copy of img with the label drawn at the configured corner.
func (wm *Watermarker) Apply(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	face := wm.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	opacity := wm.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.5
	}

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textH := ascent + metrics.Descent.Ceil()
	textW := font.MeasureString(face, wm.Text).Ceil()

	origin := place(ParseAnchor(string(wm.Anchor), BottomLeft),
		dst.Rect.Dx(), dst.Rect.Dy(), textW, textH, WatermarkMargin, WatermarkMargin)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: uint8(255 * opacity)}),
		Face: face,
		Dot:  fixed.P(origin.X, origin.Y+ascent),
	}
	d.DrawString(wm.Text)
	return dst
}
