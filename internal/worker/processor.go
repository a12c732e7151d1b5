package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"avatar-pipeline/internal/queue"
	"avatar-pipeline/internal/telemetry"
)

const settleTimeout = 5 * time.Second

// LeaseQueue is the pull side of the queue.
type LeaseQueue interface {
	DequeueWithLease(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Nack(ctx context.Context, d *queue.Delivery) error
	RequeueExpired(ctx context.Context, limit int64) (int, error)
	ReadyDepth(ctx context.Context) (int64, error)
	InFlight(ctx context.Context) (int64, error)
}

// Processor drives the pull loop: lease a notification, hand it to the
// consumer, acknowledge. One processor handles one job at a time.
type Processor struct {
	queue        LeaseQueue
	consumer     *Consumer
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewProcessor(q LeaseQueue, consumer *Consumer, pollInterval time.Duration, log zerolog.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Processor{queue: q, consumer: consumer, pollInterval: pollInterval, log: log}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		handled, err := p.Poll(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("poll failed")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// Poll handles at most one notification and reports whether one was found.
func (p *Processor) Poll(ctx context.Context) (bool, error) {
	if n, err := p.queue.RequeueExpired(ctx, 100); err != nil {
		p.log.Warn().Err(err).Msg("requeue expired leases")
	} else if n > 0 {
		p.log.Info().Int("count", n).Msg("expired leases requeued")
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	if leased, err := p.queue.InFlight(ctx); err == nil {
		telemetry.QueueLeasedGauge.Set(float64(leased))
	}

	d, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	jobID, err := queue.DecodeEnvelope(d.Body)
	if err != nil {
		// Redelivering a malformed notification cannot help.
		p.log.Error().Err(err).Msg("malformed notification dropped")
		return true, p.settle(ctx, d, true)
	}

	if _, err := p.consumer.Handle(ctx, jobID); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("delivery returned to queue")
		return true, p.settle(ctx, d, false)
	}
	return true, p.settle(ctx, d, true)
}

// settle acks or nacks d. It runs even when ctx is done so a delivery whose
// pipeline finished during shutdown is not redelivered.
func (p *Processor) settle(ctx context.Context, d *queue.Delivery, ack bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if ack {
		return p.queue.Ack(ctx, d)
	}
	return p.queue.Nack(ctx, d)
}
