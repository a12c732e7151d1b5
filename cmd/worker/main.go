package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"avatar-pipeline/internal/bootstrap"
	"avatar-pipeline/internal/config"
	"avatar-pipeline/internal/logging"
	"avatar-pipeline/internal/queue"
	workerproc "avatar-pipeline/internal/worker"
)

func main() {
	cfg, err := config.LoadFile(".env")
	if err != nil {
		logging.New("", "avatar-worker").Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "avatar-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := bootstrap.Postgres(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	blobs, err := bootstrap.Blobs(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store")
	}

	orch, err := bootstrap.Orchestrator(cfg, st, blobs, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init pipeline")
	}
	consumer := workerproc.NewConsumer(st, orch, log).WithRunTimeout(cfg.PipelineTimeout)

	rdb := bootstrap.RedisClient(cfg)
	defer rdb.Close()
	q := queue.NewRedisQueue(rdb, cfg.QueueName, cfg.VisibilityTimeout)

	httpServer := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           workerproc.NewPushServer(consumer, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.WorkerPort).Msg("push endpoint listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Claimed push deliveries run to completion within the run timeout.
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.PipelineTimeout+5*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	pollers := cfg.WorkerConcurrency
	if pollers < 1 {
		pollers = 1
	}
	for i := 0; i < pollers; i++ {
		plog := log.With().Int("poller", i).Logger()
		p := workerproc.NewProcessor(q, consumer, cfg.WorkerPollInterval, plog)
		g.Go(func() error {
			if err := p.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	log.Info().Int("pollers", pollers).Dur("visibility", cfg.VisibilityTimeout).Msg("worker started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
}
