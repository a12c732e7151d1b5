package worker

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/pipeline"
	"avatar-pipeline/internal/queue"
	"avatar-pipeline/internal/store/memory"
	"avatar-pipeline/internal/telemetry"
)

func newTestProcessor(t *testing.T) (*Processor, *queue.RedisQueue, *memory.Store, *completingExecutor, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewRedisQueue(client, "test", time.Minute)
	st := memory.New()
	exec := &completingExecutor{store: st}
	p := NewProcessor(q, NewConsumer(st, exec, zerolog.Nop()), 10*time.Millisecond, zerolog.Nop())
	return p, q, st, exec, client
}

func TestProcessorPollHandlesAndAcks(t *testing.T) {
	ctx := context.Background()
	p, q, st, exec, _ := newTestProcessor(t)
	seedQueued(t, st, "j1")
	if err := q.Publish(ctx, "j1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Duplicate notification for the same job.
	if err := q.Publish(ctx, "j1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		handled, err := p.Poll(ctx)
		if err != nil || !handled {
			t.Fatalf("poll %d: handled=%v err=%v", i, handled, err)
		}
	}
	if handled, _ := p.Poll(ctx); handled {
		t.Fatalf("expected empty queue")
	}
	if exec.count() != 1 {
		t.Fatalf("expected one pipeline run, got %d", exec.count())
	}
	if n, _ := q.InFlight(ctx); n != 0 {
		t.Fatalf("expected no leases left, got %d", n)
	}
}

func TestProcessorDropsMalformedNotification(t *testing.T) {
	ctx := context.Background()
	p, q, _, exec, client := newTestProcessor(t)
	if err := client.RPush(ctx, "queue:test:ready", `{"message":{}}`).Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}

	handled, err := p.Poll(ctx)
	if err != nil || !handled {
		t.Fatalf("poll: handled=%v err=%v", handled, err)
	}
	if exec.count() != 0 {
		t.Fatalf("malformed notification must not run the pipeline")
	}
	if n, _ := q.InFlight(ctx); n != 0 {
		t.Fatalf("malformed notification must be acknowledged")
	}
}

func TestProcessorRunStopsOnCancel(t *testing.T) {
	p, _, _, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

// shutdownExecutor cancels the poll context mid-run, like a SIGTERM during a job.
type shutdownExecutor struct {
	store  *memory.Store
	cancel context.CancelFunc
}

func (e shutdownExecutor) Execute(ctx context.Context, job models.Job) (pipeline.Outcome, error) {
	e.cancel()
	ref := "local://results/" + job.ID + ".png"
	if err := e.store.CompleteJob(ctx, job.ID, ref, models.JobMetadata{}); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{Status: models.StatusCompleted, OutputRef: ref}, nil
}

func TestProcessorAcksJobFinishedDuringShutdown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewRedisQueue(client, "test", time.Minute)
	st := memory.New()
	seedQueued(t, st, "j1")
	if err := q.Publish(context.Background(), "j1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewProcessor(q, NewConsumer(st, shutdownExecutor{store: st, cancel: cancel}, zerolog.Nop()), 10*time.Millisecond, zerolog.Nop())

	handled, err := p.Poll(ctx)
	if err != nil || !handled {
		t.Fatalf("poll: handled=%v err=%v", handled, err)
	}
	if n, _ := q.InFlight(context.Background()); n != 0 {
		t.Fatalf("finished delivery must be acknowledged after shutdown, %d leases left", n)
	}
	job, _ := st.GetJob(context.Background(), "j1")
	if job.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
}

func TestProcessorReportsLeasedNotifications(t *testing.T) {
	ctx := context.Background()
	p, q, st, _, _ := newTestProcessor(t)
	seedQueued(t, st, "j1")
	seedQueued(t, st, "j2")
	for _, id := range []string{"j1", "j2"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	// Another worker holds j1.
	if d, err := q.DequeueWithLease(ctx); err != nil || d == nil {
		t.Fatalf("lease: %v", err)
	}

	if _, err := p.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	var m dto.Metric
	if err := telemetry.QueueLeasedGauge.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected one leased notification, got %v", got)
	}
}
