package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/buffer"
	"github.com/outpost-labs/logsieve/internal/config"
	"github.com/outpost-labs/logsieve/internal/index"
	logpkg "github.com/outpost-labs/logsieve/internal/logger"
	"github.com/outpost-labs/logsieve/internal/metrics"
	"github.com/outpost-labs/logsieve/internal/repository/cursor"
	chiTransport "github.com/outpost-labs/logsieve/internal/transport/chi"
	healthuc "github.com/outpost-labs/logsieve/internal/usecase/health"
	ingestuc "github.com/outpost-labs/logsieve/internal/usecase/ingest"
	retentionuc "github.com/outpost-labs/logsieve/internal/usecase/retention"
	searchuc "github.com/outpost-labs/logsieve/internal/usecase/search"
	"github.com/outpost-labs/logsieve/internal/version"
)

// cursorStore is the full SourceState surface: gateway cursors, indexer
// cursors, and health probing.
type cursorStore interface {
	Accepted(ctx context.Context, sourceKey string) (uint64, error)
	SetAccepted(ctx context.Context, sourceKey string, seq uint64) error
	Committed(ctx context.Context, sourceKey string) (uint64, error)
	SetCommitted(ctx context.Context, sourceKey string, seq uint64) error
	Ping(ctx context.Context) error
	Close()
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting logsieve engine",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cursor_driver", cfg.Cursors.Driver),
	)

	// Create the cursor store based on driver
	var cursors cursorStore
	switch cfg.Cursors.Driver {
	case "memory":
		cursors = cursor.NewMemory()
	case "redis":
		rds, err := cursor.NewRedis(cursor.RedisConfig{
			Addrs:     cfg.Cursors.Addrs,
			Password:  cfg.Cursors.Password,
			KeyPrefix: cfg.Cursors.KeyPrefix,
		})
		if err != nil {
			logger.Fatal("Failed to create redis cursor store", zap.Error(err))
		}
		readiness := time.Duration(cfg.Cursors.ReadinessTimeout) * time.Second
		if err := rds.WaitForReady(context.Background(), readiness); err != nil {
			logger.Fatal("Cursor store not ready", zap.Error(err))
		}
		cursors = rds
	default:
		logger.Fatal("Unknown cursor driver", zap.String("driver", cfg.Cursors.Driver))
	}
	defer cursors.Close()

	// Register engine metrics explicitly (no init())
	metrics.RegisterEngineMetrics()

	// Record buffers with WAL recovery
	bufSet, err := buffer.NewSet(buffer.Config{
		Capacity:      cfg.Buffer.Capacity,
		FlushRecords:  cfg.Buffer.FlushRecords,
		FlushInterval: time.Duration(cfg.Buffer.FlushIntervalMs) * time.Millisecond,
		Dir:           cfg.Buffer.Dir,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create record buffers", zap.Error(err))
	}
	if err := bufSet.Recover(); err != nil {
		logger.Fatal("WAL recovery failed", zap.Error(err))
	}

	// Segment store with sealed segments reloaded from disk
	store := index.NewStore()
	codec, err := index.NewCodec()
	if err != nil {
		logger.Fatal("Failed to create segment codec", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Segment.Dir, 0o755); err != nil {
		logger.Fatal("Failed to create segment dir", zap.Error(err))
	}
	segs, loadErrs := codec.LoadDir(cfg.Segment.Dir)
	for _, lerr := range loadErrs {
		logger.Warn("skipping unreadable segment", zap.Error(lerr))
	}
	for _, seg := range segs {
		store.AddSealed(seg)
	}
	if len(segs) > 0 {
		logger.Info("reloaded sealed segments", zap.Int("segments", len(segs)))
	}

	indexer := index.New(store, codec, cursors, bufSet.Dirty(), index.Config{
		Workers: cfg.Segment.IndexWorkers,
		Policy: index.SealPolicy{
			MaxRecords: cfg.Segment.MaxRecords,
			MaxBytes:   cfg.Segment.MaxBytes,
			MaxAge:     time.Duration(cfg.Segment.MaxAgeSec) * time.Second,
		},
		Dir:            cfg.Segment.Dir,
		PersistRetries: cfg.Segment.PersistRetries,
	}, logger)

	retentionSvc := retentionuc.New(
		store,
		segmentArtifacts{dir: cfg.Segment.Dir},
		time.Duration(cfg.Retention.WindowSec)*time.Second,
		time.Duration(cfg.Retention.GraceSec)*time.Second,
		time.Duration(cfg.Retention.SweepIntervalSec)*time.Second,
		logger,
	)

	// Background workers
	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go func() {
		if err := indexer.Run(runCtx); err != nil {
			logger.Error("indexer stopped with error", zap.Error(err))
		}
	}()
	go bufSet.RunFlushTicker(runCtx)
	go func() {
		if err := retentionSvc.Run(runCtx); err != nil {
			logger.Error("retention manager stopped with error", zap.Error(err))
		}
	}()

	// Use case services
	ingestSvc := ingestuc.New(bufSet, cursors, cfg.SkewTolerance(), cfg.EnqueueTimeout(), logger)
	searchSvc := searchuc.New(store, logger)
	healthSvc := healthuc.New(cursors, cfg.Buffer.Dir)

	// Create chi server
	server := chiTransport.NewServer(ingestSvc, searchSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Drain buffered records through the indexer before stopping the workers,
	// then seal whatever the active segment holds so it survives the restart.
	drainBuffers(shutdownCtx, bufSet, logger)
	stopWorkers()
	if seg := indexer.ForceSeal(context.Background()); seg != nil {
		logger.Info("final segment sealed", zap.String("segment", seg.ID()))
	}
	if err := bufSet.Close(); err != nil {
		logger.Error("Error closing buffers", zap.Error(err))
	}

	logger.Info("Engine stopped gracefully")
}

// drainBuffers pushes pending records through the indexer until the buffers
// are empty or ctx expires. Records still pending afterwards are safe in the
// WAL and replay on the next start.
func drainBuffers(ctx context.Context, bufSet *buffer.Set, logger *zap.Logger) {
	bufSet.DrainReady()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		pending := bufSet.PendingTotal()
		if pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			logger.Warn("shutdown deadline hit with records still buffered, wal will replay them",
				zap.Int("pending", pending))
			return
		case <-ticker.C:
			bufSet.DrainReady()
		}
	}
}

// segmentArtifacts deletes sealed-segment files for the retention manager.
type segmentArtifacts struct {
	dir string
}

func (a segmentArtifacts) Delete(seg *index.Segment) error {
	return index.DeleteSegmentFile(a.dir, seg)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
