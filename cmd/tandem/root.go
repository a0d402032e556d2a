package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solacelabs/tandem/internal/api"
	"github.com/solacelabs/tandem/internal/config"
	"github.com/solacelabs/tandem/internal/generation"
	"github.com/solacelabs/tandem/internal/needs"
	"github.com/solacelabs/tandem/internal/snapshot"
	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
	"github.com/solacelabs/tandem/internal/wizard"
	"github.com/solacelabs/tandem/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem - Shared Needs Service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("configuration loaded")

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	generator, err := newGenerator(ctx, cfg.Generation)
	if err != nil {
		return err
	}
	slog.Info("generator initialized",
		"provider", cfg.Generation.Provider,
		"fast_model", cfg.Generation.FastModel,
		"deep_model", cfg.Generation.DeepModel)

	couple := types.Couple{
		First:  types.Member(cfg.Couple.First),
		Second: types.Member(cfg.Couple.Second),
	}
	needsSvc := needs.NewService(db, couple, logger)
	wizards := wizard.NewManager(couple, wizard.Config{
		DepthThreshold:   cfg.Wizard.DepthThreshold,
		AnalysisDebounce: time.Duration(cfg.Wizard.AnalysisDebounce),
		CompleteDelay:    time.Duration(cfg.Wizard.CompleteDelay),
	}, generator, db, logger)

	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		return err
	}

	reminders := worker.NewReminderCoordinator(db, time.Duration(cfg.Worker.ReminderInterval))
	snapshots := worker.NewSnapshotCoordinator(db, uploader,
		filepath.Dir(cfg.Database.Path), time.Duration(cfg.Worker.SnapshotInterval))

	handler := api.NewHandler(db, needsSvc, wizards, couple, reminders, uploader,
		cfg.Auth.APIKey, Version, cfg.Generation.DeepModel)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "reminder", reminders.Run)
	startWorker(ctx, &wg, "snapshot", snapshots.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error on graceful Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newGenerator selects the text-generation provider from config.
func newGenerator(ctx context.Context, cfg config.GenerationConfig) (generation.Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return generation.NewGemini(ctx, cfg.APIKey, cfg.FastModel, cfg.DeepModel)
	case "openai":
		return generation.NewOpenAI(cfg.APIKey, cfg.FastModel, cfg.DeepModel), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
