// Package pipeline runs the generation stages for one job and records the
// terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/generator"
	"avatar-pipeline/internal/imageops"
	"avatar-pipeline/internal/models"
)

// Stage names, in execution order.
const (
	StageFetchInput = "fetch_input"
	StageGenerate   = "generate"
	StageIsolate    = "isolate"
	StageCompose    = "compose"
	StageUpload     = "upload"
)

// Artifacts carries what earlier stages produced to later ones. It lives for
// a single run.
type Artifacts struct {
	Job models.Job

	Input       []byte
	InputImage  image.Image
	Generated   image.Image
	Isolation   imageops.Isolation
	Deliverable image.Image

	OutputRef string
	AvatarRef string
}

// Stage is one named step. Run reads and extends the artifacts.
type Stage struct {
	Name string
	Run  func(ctx context.Context, a *Artifacts) error
}

// Options configures the stages.
type Options struct {
	UploadBucket string
	ResultBucket string
	Directives   generator.Directives
	Composite    imageops.CompositeOptions
}

// Stages builds the generation stages over the given collaborators.
type Stages struct {
	blobs    blob.Store
	gen      generator.Generator
	isolator *imageops.Isolator
	wm       *imageops.Watermarker
	opts     Options
}

func NewStages(blobs blob.Store, gen generator.Generator, isolator *imageops.Isolator, wm *imageops.Watermarker, opts Options) *Stages {
	if opts.Composite.Scale == 0 {
		opts.Composite = imageops.DefaultCompositeOptions()
	}
	if opts.Directives.Model == "" {
		opts.Directives = generator.DefaultDirectives()
	}
	return &Stages{blobs: blobs, gen: gen, isolator: isolator, wm: wm, opts: opts}
}

// Directives returns the generation directives jobs run with.
func (s *Stages) Directives() generator.Directives { return s.opts.Directives }

// List returns the stages in execution order.
func (s *Stages) List() []Stage {
	return []Stage{
		{Name: StageFetchInput, Run: s.FetchInput},
		{Name: StageGenerate, Run: s.Generate},
		{Name: StageIsolate, Run: s.Isolate},
		{Name: StageCompose, Run: s.Compose},
		{Name: StageUpload, Run: s.Upload},
	}
}

// FetchInput downloads and decodes the job's uploaded photo.
func (s *Stages) FetchInput(ctx context.Context, a *Artifacts) error {
	data, err := s.blobs.Get(ctx, s.opts.UploadBucket, blob.InputKey(a.Job.ID))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return apperr.Pipeline("fetch input", err)
		}
		return apperr.Transient("fetch input", err)
	}
	img, err := imageops.Decode(data)
	if err != nil {
		return apperr.Pipeline("fetch input", err)
	}
	a.Input = data
	a.InputImage = img
	return nil
}

// Generate calls the image model with the input as reference.
func (s *Stages) Generate(ctx context.Context, a *Artifacts) error {
	out, err := s.gen.Generate(ctx, a.Input, s.opts.Directives)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			return apperr.Pipeline("generate", err)
		}
		return err
	}
	img, err := imageops.Decode(out)
	if err != nil {
		return apperr.Pipeline("generate", fmt.Errorf("generated output: %w", err))
	}
	a.Generated = img
	return nil
}

// Isolate keeps the largest character of the generated image.
func (s *Stages) Isolate(ctx context.Context, a *Artifacts) error {
	iso, err := s.isolator.Isolate(ctx, a.Generated)
	if err != nil {
		return apperr.Pipeline("isolate", err)
	}
	a.Isolation = iso
	return nil
}

// Compose places the character onto the input photo and watermarks free-tier
// results. Avatar jobs deliver the isolated character as is.
func (s *Stages) Compose(_ context.Context, a *Artifacts) error {
	if !a.Job.Composite {
		a.Deliverable = a.Isolation.Image
		return nil
	}
	out := imageops.Composite(a.InputImage, a.Isolation.Image, s.opts.Composite)
	if a.Job.Watermark && s.wm != nil {
		out = s.wm.Apply(out)
	}
	a.Deliverable = out
	return nil
}

// Upload stores the deliverable, and for composites the isolated avatar too.
func (s *Stages) Upload(ctx context.Context, a *Artifacts) error {
	avatarPNG, err := imageops.EncodePNG(a.Isolation.Image)
	if err != nil {
		return apperr.Pipeline("upload", err)
	}
	avatarRef, err := s.blobs.Put(ctx, s.opts.ResultBucket, blob.AvatarKey(a.Job.ID), avatarPNG, "image/png")
	if err != nil {
		return apperr.Transient("upload avatar", err)
	}
	if !a.Job.Composite {
		a.OutputRef = avatarRef
		return nil
	}

	resultPNG, err := imageops.EncodePNG(a.Deliverable)
	if err != nil {
		return apperr.Pipeline("upload", err)
	}
	ref, err := s.blobs.Put(ctx, s.opts.ResultBucket, blob.ResultKey(a.Job.ID), resultPNG, "image/png")
	if err != nil {
		return apperr.Transient("upload result", err)
	}
	a.OutputRef = ref
	a.AvatarRef = avatarRef
	return nil
}
