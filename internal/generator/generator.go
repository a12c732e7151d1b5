// Package generator turns a reference photo into a stylized character image
// through an external image model.
package generator

import (
	"context"
	"strings"
)

const (
	DefaultStyle = "everskies-pixel-art"
	DefaultModel = "gpt-image-1"
	DefaultSize  = "1024x1536"
)

// DefaultPrompt asks for a single full-body pixel-art figure on a clean
// background so isolation has one dominant region to keep.
var DefaultPrompt = strings.Join([]string{
	"Create a single 2D pixel-art fashion doll avatar of the person in the reference photo, one person only.",
	"Keep their hairstyle, outfit and primary colors.",
	"Rendered in Everskies pixel avatar style with clean, distinct pixel outlines and a limited color palette.",
	"Full body, neutral standing pose, arms relaxed at sides.",
	"Transparent background, no glow effects or shadows.",
	"Avoid anime, chibi, photorealism, 3D rendering, blur, anti-aliasing, multiple people and duplicates.",
}, " ")

// Directives steer one generation call.
type Directives struct {
	Style  string
	Prompt string
	Model  string
	Size   string
}

// DefaultDirectives returns the directives every job is generated with.
func DefaultDirectives() Directives {
	return Directives{
		Style:  DefaultStyle,
		Prompt: DefaultPrompt,
		Model:  DefaultModel,
		Size:   DefaultSize,
	}
}

// Generator produces one encoded raster from a reference raster, or fails
// with apperr.ErrNoImageProduced when the service returns nothing.
type Generator interface {
	Generate(ctx context.Context, reference []byte, d Directives) ([]byte, error)
}
