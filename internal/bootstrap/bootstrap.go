// Package bootstrap builds the collaborators shared by the binaries from config.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"avatar-pipeline/internal/bgremove"
	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/config"
	"avatar-pipeline/internal/generator"
	"avatar-pipeline/internal/imageops"
	"avatar-pipeline/internal/pipeline"
	"avatar-pipeline/internal/store"
)

func RedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Postgres connects and applies migrations.
func Postgres(ctx context.Context, cfg config.Config) (*store.Postgres, error) {
	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return st, nil
}

// Blobs returns the configured blob store.
func Blobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Options{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case "local", "":
		return blob.NewLocalStore(cfg.BlobLocalDir), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// Orchestrator assembles the generation stages.
func Orchestrator(cfg config.Config, jobs pipeline.JobWriter, blobs blob.Store, log zerolog.Logger) (*pipeline.Orchestrator, error) {
	gen, err := generator.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenerationTimeout)
	if err != nil {
		return nil, err
	}

	var remover imageops.BackgroundRemover = imageops.BorderFloodRemover{Tolerance: cfg.BackgroundTolerance}
	if cfg.BackgroundRemovalURL != "" {
		remover = bgremove.NewRemote(cfg.BackgroundRemovalURL, 0)
	}

	wm, err := imageops.NewWatermarker(cfg.WatermarkText,
		imageops.ParseAnchor(cfg.WatermarkPosition, imageops.BottomLeft),
		cfg.WatermarkOpacity, cfg.WatermarkFontPath, cfg.WatermarkFontSize)
	if err != nil {
		log.Warn().Err(err).Msg("watermark font unavailable, using built-in glyphs")
	}

	directives := generator.DefaultDirectives()
	if cfg.GenerationStyle != "" {
		directives.Style = cfg.GenerationStyle
	}
	if cfg.GenerationModel != "" {
		directives.Model = cfg.GenerationModel
	}
	if cfg.GenerationSize != "" {
		directives.Size = cfg.GenerationSize
	}

	stages := pipeline.NewStages(blobs, gen, imageops.NewIsolator(remover), wm, pipeline.Options{
		UploadBucket: cfg.UploadBucket,
		ResultBucket: cfg.ResultBucket,
		Directives:   directives,
		Composite: imageops.CompositeOptions{
			Scale:          cfg.CompositeScale,
			Anchor:         imageops.ParseAnchor(cfg.CompositePosition, imageops.BottomRight),
			MarginFraction: 0.05,
		},
	})
	return pipeline.NewOrchestrator(stages, jobs, log), nil
}
