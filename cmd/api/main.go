package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "avatar-pipeline/internal/api"
	"avatar-pipeline/internal/bootstrap"
	"avatar-pipeline/internal/config"
	"avatar-pipeline/internal/ledger"
	"avatar-pipeline/internal/logging"
	"avatar-pipeline/internal/queue"
	"avatar-pipeline/internal/ratelimit"
)

func main() {
	cfg, err := config.LoadFile(".env")
	if err != nil {
		logging.New("", "avatar-api").Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, "avatar-api")

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

	rdb := bootstrap.RedisClient(cfg)
	defer rdb.Close()

	server := api.New(cfg, api.Deps{
		Jobs:      st,
		Accounts:  st,
		Ledger:    ledger.New(st, cfg.FreeCredits),
		Blobs:     blobs,
		Publisher: queue.NewRedisQueue(rdb, cfg.QueueName, cfg.VisibilityTimeout),
		Limiter:   ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill),
		Log:       log,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("listen")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
