package worker

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatar-pipeline/internal/blob"
	"avatar-pipeline/internal/generator"
	"avatar-pipeline/internal/imageops"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/pipeline"
	"avatar-pipeline/internal/store/memory"
)

// ctxStore rejects writes on a done context, as the Postgres driver does.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) ClaimJob(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.ClaimJob(ctx, id)
}

func (s ctxStore) CompleteJob(ctx context.Context, id, outputRef string, meta models.JobMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CompleteJob(ctx, id, outputRef, meta)
}

func (s ctxStore) FailJob(ctx context.Context, id, reason string, meta models.JobMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.FailJob(ctx, id, reason, meta)
}

// blockingGenerator waits for release or for its context to end.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	out     []byte
}

func (g *blockingGenerator) Generate(ctx context.Context, _ []byte, _ generator.Directives) ([]byte, error) {
	close(g.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return g.out, nil
	}
}

type runHarness struct {
	store ctxStore
	gen   *blockingGenerator
	cons  *Consumer
}

func newRunHarness(t *testing.T, jobID string) *runHarness {
	t.Helper()
	ctx := context.Background()

	figure := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			figure.SetNRGBA(x, y, color.NRGBA{R: 220, A: 255})
		}
	}
	out, err := imageops.EncodePNG(figure)
	require.NoError(t, err)

	photo := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < len(photo.Pix); i += 4 {
		photo.Pix[i+1], photo.Pix[i+3] = 120, 255
	}
	input, err := imageops.EncodeJPEG(photo)
	require.NoError(t, err)

	blobs := blob.NewLocalStore(t.TempDir())
	ref, err := blobs.Put(ctx, "uploads", blob.InputKey(jobID), input, "image/jpeg")
	require.NoError(t, err)

	h := &runHarness{
		store: ctxStore{memory.New()},
		gen:   &blockingGenerator{started: make(chan struct{}), release: make(chan struct{}), out: out},
	}
	require.NoError(t, h.store.CreateJob(ctx, models.Job{
		ID:        jobID,
		OwnerID:   "u1",
		Status:    models.StatusQueued,
		InputRef:  ref,
		CreatedAt: time.Now(),
	}))

	stages := pipeline.NewStages(blobs, h.gen, imageops.NewIsolator(nil), nil, pipeline.Options{
		UploadBucket: "uploads",
		ResultBucket: "results",
	})
	orch := pipeline.NewOrchestrator(stages, h.store, zerolog.Nop())
	h.cons = NewConsumer(h.store, orch, zerolog.Nop())
	return h
}

type handled struct {
	res Result
	err error
}

func (h *runHarness) handleAsync(ctx context.Context, jobID string) <-chan handled {
	done := make(chan handled, 1)
	go func() {
		res, err := h.cons.Handle(ctx, jobID)
		done <- handled{res, err}
	}()
	return done
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestConsumerRunSurvivesDeliveryCancellation(t *testing.T) {
	h := newRunHarness(t, "j1")
	ctx, cancel := context.WithCancel(context.Background())
	done := h.handleAsync(ctx, "j1")

	waitFor[struct{}](t, h.gen.started)
	cancel()
	close(h.gen.release)

	got := waitFor(t, done)
	require.NoError(t, got.err)
	assert.Equal(t, Processed, got.res)

	job, err := h.store.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.OutputRef)
	assert.Equal(t, "local://results/j1_avatar.png", *job.OutputRef)
	assert.Nil(t, job.Error)
}

func TestConsumerRunTimeoutStillRecordsFailure(t *testing.T) {
	h := newRunHarness(t, "j2")
	h.cons.WithRunTimeout(50 * time.Millisecond)

	got := waitFor(t, h.handleAsync(context.Background(), "j2"))
	require.NoError(t, got.err)
	assert.Equal(t, Processed, got.res)

	job, err := h.store.GetJob(context.Background(), "j2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "deadline exceeded")
	assert.Nil(t, job.OutputRef)
	assert.NotNil(t, job.CompletedAt)
}
