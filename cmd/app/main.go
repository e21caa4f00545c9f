package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/dispatcher"
	"github.com/local/pdfsplitter/internal/limiter"
	logpkg "github.com/local/pdfsplitter/internal/logger"
	"github.com/local/pdfsplitter/internal/metrics"
	"github.com/local/pdfsplitter/internal/orchestrator"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/queue"
	"github.com/local/pdfsplitter/internal/statuscheck"
	"github.com/local/pdfsplitter/internal/storage"
	"github.com/local/pdfsplitter/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.FromConfig(cfg))
	defer logpkg.Close()
	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	// Status and per-output results share the queue's connection
	rs := store.NewRedisStatusWithClient(rq.Client())
	outputs := store.NewOutputStore(rq.Client())

	orch := orchestrator.New(orchestrator.Dependencies{
		Queue:   rq,
		Status:  rs,
		Outputs: outputs,
	}, cfg.Split, cfg.HTTP)
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/status", statuscheck.New(statuscheck.Options{
		Redis:     rq,
		Storage:   cfg.Storage,
		UploadDir: cfg.HTTP.UploadDir,
		OutputDir: cfg.Split.OutputDir,
	}).Handler())

	// Dispatcher worker (optional)
	var disp *dispatcher.Worker
	runDispatcher := os.Getenv("RUN_DISPATCHER")
	if runDispatcher == "" || runDispatcher == "1" || runDispatcher == "true" {
		disp = dispatcher.New(dispatcher.Config{
			Concurrency:    cfg.Worker.Concurrency,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			RetryBaseDelay: cfg.Worker.RetryBaseDelay,
			JobTimeout:     cfg.Split.JobTimeout,
			Writers:        cfg.Split.Workers,
			PollTimeout:    cfg.Queue.PollInterval * 10,
			TempMaxAge:     cfg.Worker.TempMaxAge,
		}, dispatcher.Deps{
			Queue:   rq,
			Status:  rs,
			Outputs: outputs,
			Sinks:   sinkFactory(cfg),
			Writer:  pdfdoc.NewWriter(),
			Sources: limiter.New(limiter.Options{IsFailure: dispatcher.IsTransient}),
		})
		disp.Start()
	}

	depthCtx, stopDepth := context.WithCancel(context.Background())
	defer stopDepth()
	go reportQueueDepth(depthCtx, rq)

	port := cfg.HTTP.Port
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if disp != nil {
		if err := disp.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("dispatcher did not stop in time")
		}
	}
	fmt.Println("shutdown complete")
}

// sinkFactory places a task's outputs under its output folder: a directory
// below SPLIT_OUTPUT_DIR, or a key prefix in the bucket.
func sinkFactory(cfg cfgpkg.Config) dispatcher.SinkFactory {
	return func(ctx context.Context, t queue.SplitTask) (storage.Sink, error) {
		dir := t.Output
		if dir == "" {
			dir = t.ID
		}
		if cfg.Storage.Backend != "s3" {
			dir = filepath.Join(cfg.Split.OutputDir, filepath.Clean("/"+dir))
		}
		return storage.Open(ctx, cfg.Storage, dir)
	}
}

func reportQueueDepth(ctx context.Context, rq *queue.RedisQueue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stream, delayed, dlq, err := rq.Depths(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("queue depth check failed")
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
