package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tatekae/internal/backup"
	"github.com/mmynk/tatekae/internal/cache"
	"github.com/mmynk/tatekae/internal/config"
	"github.com/mmynk/tatekae/internal/maintenance"
	"github.com/mmynk/tatekae/internal/metrics"
	"github.com/mmynk/tatekae/internal/middleware"
	"github.com/mmynk/tatekae/internal/service"
	"github.com/mmynk/tatekae/internal/storage/sqlite"
	"github.com/mmynk/tatekae/pkg/logging"
)

const (
	shutdownTimeout = 15 * time.Second
	jobTimeout      = 5 * time.Minute
)

func main() {
	logger := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	loc := cfg.Location()

	// Initialize SQLite storage
	store, err := sqlite.New(cfg.DBPath,
		sqlite.WithLocation(loc),
		sqlite.WithLogger(logger),
		sqlite.WithObserver(metrics.ObserveStoreOp),
	)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath, "timezone", loc.String())

	sessionCache := cache.New(store, cache.Options{
		TTL:        cfg.CacheTTL,
		MaxSize:    cfg.CacheMaxSize,
		FlushDelay: cfg.FlushDelay,
		Logger:     logger,
	})
	sessions := service.NewSessionService(sessionCache, store, service.WithLogger(logger))

	backups := backup.New(store, backup.Options{
		Dir:           cfg.BackupDir,
		RetentionDays: cfg.BackupRetentionDays,
		Location:      loc,
		Logger:        logger,
	})

	scheduler := maintenance.New(loc, jobTimeout, logger)
	jobs := []struct {
		name, spec string
		fn         maintenance.JobFunc
	}{
		{maintenance.JobBackup, cfg.BackupSchedule, maintenance.BackupJob(backups, sessions, logger)},
		{maintenance.JobCheckpoint, cfg.CheckpointSchedule, maintenance.CheckpointJob(store)},
		{maintenance.JobSweep, cfg.SweepSchedule, maintenance.SweepJob(sessions, logger)},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.fn); err != nil {
			slog.Error("Failed to schedule maintenance job", "job", j.name, "error", err)
			os.Exit(1)
		}
	}
	scheduler.Start()

	mux := http.NewServeMux()

	// Register Connect services
	interceptors := connect.WithInterceptors(middleware.RequestID(), middleware.LoggingInterceptor(logger))
	ledgerPath, ledgerHandler := service.NewLedgerServiceHandler(service.NewLedgerService(sessions), interceptors)
	mux.Handle(ledgerPath, ledgerHandler)

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	handler := metrics.InstrumentHandler(corsMiddleware(mux))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Connect server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("Maintenance jobs still running at shutdown", "error", err)
	}
	// Pending eventual writes must reach the store before it is closed.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to flush pending writes", "error", err)
	}
	slog.Info("Shutdown complete")
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms, X-Request-Id")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms, X-Request-Id")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
