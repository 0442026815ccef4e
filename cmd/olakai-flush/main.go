// Command olakai-flush delivers a persisted monitoring queue left behind
// by a crashed or interrupted process. It reads OLAKAI_* environment
// variables (and a .env file when present), opens the durable queue
// store, and attempts one delivery pass over everything pending.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/olakai/olakai-go/internal/api"
	"github.com/olakai/olakai-go/internal/config"
	"github.com/olakai/olakai-go/internal/logging"
	"github.com/olakai/olakai-go/internal/queue"
	"github.com/olakai/olakai-go/internal/store"
)

var version = "dev"

func main() {
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			config.WriteHelp(os.Stdout, version)
			return
		case "--version":
			fmt.Printf("olakai-flush %s\n", version)
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n\n", arg)
			config.WriteHelp(os.Stderr, version)
			os.Exit(2)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "olakai-flush: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional; absence of a .env file is the normal case.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Setup(logging.LevelFor(cfg.Debug, cfg.Verbose), os.Stderr)
	if err != nil {
		return err
	}

	path := cfg.StoragePath
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		path = filepath.Join(base, "olakai", "queue.db")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no queue store at %s: %w", path, err)
	}

	st, err := store.OpenSQLite(path, cfg.MaxStorageBytes)
	if err != nil {
		return fmt.Errorf("open queue store %s: %w", path, err)
	}
	defer st.Close()

	pending, err := st.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count pending payloads: %w", err)
	}
	if pending == 0 {
		logger.Info("queue store empty, nothing to deliver", "path", path)
		return nil
	}
	logger.Info("delivering persisted queue", "path", path, "pending", pending)

	sender := api.New(cfg.APIKey, cfg.MonitoringURL(), cfg.ControlURL(), cfg.RequestTimeout, cfg.Retries, logger)
	mgr := queue.New(sender, st, queue.Options{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxSize:      cfg.MaxQueueSize,
		Persistent:   true,
		Logger:       logger,
	})
	mgr.Start()

	flushErr := mgr.Flush(ctx)
	if err := mgr.Shutdown(ctx); err != nil && flushErr == nil {
		flushErr = err
	}

	remaining, err := st.PendingCount(context.Background())
	if err != nil {
		return fmt.Errorf("recount pending payloads: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("delivery incomplete, %d payloads still pending: %w", remaining, flushErr)
	}
	if remaining > 0 {
		return fmt.Errorf("delivery incomplete, %d payloads still pending", remaining)
	}
	logger.Info("queue drained", "delivered", pending)
	return nil
}
