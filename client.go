package olakai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/olakai/olakai-go/internal/api"
	"github.com/olakai/olakai-go/internal/capture"
	"github.com/olakai/olakai-go/internal/config"
	"github.com/olakai/olakai-go/internal/control"
	"github.com/olakai/olakai-go/internal/logging"
	"github.com/olakai/olakai-go/internal/queue"
	"github.com/olakai/olakai-go/internal/store"
)

// Call is the raw material handed to a capture function.
type Call struct {
	Args   any
	Result any
	Err    error
}

// Captured is the payload-ready {input, output} pair a capture function
// produces.
type Captured struct {
	Input  any
	Output any
}

// CaptureFunc transforms a finished call into captured payload fields.
// A custom CaptureFunc fully replaces the default capture behavior; if it
// fails or panics the SDK falls back to a minimal, error-safe payload.
type CaptureFunc func(call Call) (Captured, error)

// Built-in capture strategies.
var (
	// CaptureAll records both the argument and the result.
	CaptureAll CaptureFunc = func(call Call) (Captured, error) {
		c, err := capture.All(capture.Call(call))
		return Captured(c), err
	}
	// CaptureInput records only the argument.
	CaptureInput CaptureFunc = func(call Call) (Captured, error) {
		c, err := capture.Input(capture.Call(call))
		return Captured(c), err
	}
	// CaptureOutput records only the result.
	CaptureOutput CaptureFunc = func(call Call) (Captured, error) {
		c, err := capture.Output(capture.Call(call))
		return Captured(c), err
	}
)

// Config is a read-only snapshot of a client's effective configuration.
type Config struct {
	APIKey          string
	Domain          string
	MonitoringURL   string
	ControlURL      string
	BatchSize       int
	BatchTimeout    time.Duration
	Retries         int
	RequestTimeout  time.Duration
	ControlTimeout  time.Duration
	MaxQueueSize    int
	StorageEnabled  bool
	StoragePath     string
	MaxStorageBytes int64
	Debug           bool
	Verbose         bool
}

// Client is the supervision pipeline: control gate, middleware registry,
// capture engine, and delivery queue. Safe for concurrent use.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger
	api    *api.Client
	gate   *control.Gate
	queue  *queue.Manager
	engine *capture.Engine
	store  store.Store

	onError func(error)

	mu          sync.Mutex
	middlewares []Middleware

	storagePath string
}

// New builds a Client. The API key must be non-empty; an empty domain
// falls back to the production endpoint. Environment variables provide
// defaults, options override them.
func New(apiKey, domain string, opts ...Option) (*Client, error) {
	cfg, err := config.Load(context.Background())
	if err != nil {
		return nil, &ConfigurationError{Reason: "environment", Err: err}
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if domain != "" {
		cfg.Domain = domain
	}

	var cc clientConfig
	for _, o := range opts {
		o(&cc)
	}
	applyOverrides(cfg, &cc)

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}

	logger, err := logging.Setup(logging.LevelFor(cfg.Debug, cfg.Verbose), cc.logOutput)
	if err != nil {
		return nil, &ConfigurationError{Reason: "logging", Err: err}
	}

	patterns := make([]capture.Pattern, 0, len(cc.patterns))
	for _, p := range cc.patterns {
		patterns = append(patterns, capture.Pattern{Pattern: p.Pattern, Key: p.Key, Replacement: p.Replacement})
	}
	if cfg.SanitizePatternsPath != "" {
		loaded, err := capture.LoadPatterns(cfg.SanitizePatternsPath)
		if err != nil {
			return nil, &ConfigurationError{Reason: "sanitize patterns", Err: err}
		}
		patterns = append(patterns, loaded...)
	}
	sanitizer, err := capture.NewSanitizer(patterns)
	if err != nil {
		return nil, &ConfigurationError{Reason: "sanitize patterns", Err: err}
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		onError: cc.onError,
	}
	c.engine = capture.NewEngine(cfg.MaxFieldBytes, sanitizer, logger)
	c.api = api.New(cfg.APIKey, cfg.MonitoringURL(), cfg.ControlURL(), cfg.RequestTimeout, cfg.Retries, logger)
	c.gate = control.New(c.api, cfg.EffectiveControlTimeout(), logger)

	c.store, c.storagePath, err = openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	c.queue = queue.New(c.api, c.store, queue.Options{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxSize:      cfg.MaxQueueSize,
		Persistent:   cfg.StorageEnabled,
		OnError:      cc.onError,
		Logger:       logger,
	})
	c.queue.Start()

	logger.Info("olakai client ready",
		"domain", cfg.Domain,
		"batch_size", cfg.BatchSize,
		"storage", cfg.StorageEnabled,
		"pending", c.queue.Size(),
	)
	return c, nil
}

func applyOverrides(cfg *config.Config, cc *clientConfig) {
	if cc.batchSize > 0 {
		cfg.BatchSize = cc.batchSize
	}
	if cc.batchTimeout > 0 {
		cfg.BatchTimeout = cc.batchTimeout
	}
	if cc.retries > 0 {
		cfg.Retries = cc.retries
	}
	if cc.requestTimeout > 0 {
		cfg.RequestTimeout = cc.requestTimeout
	}
	if cc.controlTimeout > 0 {
		cfg.ControlTimeout = cc.controlTimeout
	}
	if cc.maxQueueSize > 0 {
		cfg.MaxQueueSize = cc.maxQueueSize
	}
	if cc.storageDisabled {
		cfg.StorageEnabled = false
	}
	if cc.storagePath != "" {
		cfg.StoragePath = cc.storagePath
	}
	if cc.maxStorageBytes > 0 {
		cfg.MaxStorageBytes = cc.maxStorageBytes
	}
	if cc.debug {
		cfg.Debug = true
	}
	if cc.verbose {
		cfg.Verbose = true
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, string, error) {
	if !cfg.StorageEnabled {
		return store.Noop{}, "", nil
	}
	path := cfg.StoragePath
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		path = filepath.Join(base, "olakai", "queue.db")
	}
	st, err := store.OpenSQLite(path, cfg.MaxStorageBytes)
	if err != nil {
		// Persistence is a reliability upgrade, not a prerequisite.
		logger.Warn("failed to open durable queue store, continuing without persistence", "path", path, "error", err)
		return store.Noop{}, "", nil
	}
	return st, path, nil
}

// Config returns a snapshot of the effective configuration.
func (c *Client) Config() Config {
	return Config{
		APIKey:          c.cfg.APIKey,
		Domain:          c.cfg.Domain,
		MonitoringURL:   c.cfg.MonitoringURL(),
		ControlURL:      c.cfg.ControlURL(),
		BatchSize:       c.cfg.BatchSize,
		BatchTimeout:    c.cfg.BatchTimeout,
		Retries:         c.cfg.Retries,
		RequestTimeout:  c.cfg.RequestTimeout,
		ControlTimeout:  c.cfg.EffectiveControlTimeout(),
		MaxQueueSize:    c.cfg.MaxQueueSize,
		StorageEnabled:  c.cfg.StorageEnabled,
		StoragePath:     c.storagePath,
		MaxStorageBytes: c.cfg.MaxStorageBytes,
		Debug:           c.cfg.Debug,
		Verbose:         c.cfg.Verbose,
	}
}

// QueueSize reports the number of monitoring payloads awaiting delivery.
func (c *Client) QueueSize() int {
	return c.queue.Size()
}

// Flush forces an immediate delivery attempt for everything pending.
func (c *Client) Flush(ctx context.Context) error {
	return c.queue.Flush(ctx)
}

// ClearQueue discards all pending payloads, including persisted ones.
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.queue.Clear(ctx)
}

// Shutdown flushes what it can and releases the queue and store.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.queue.Shutdown(ctx)
	if cerr := c.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	return err
}

// reportError routes a recovered failure to the log and, when set, the
// user's error callback. It never lets the callback break the pipeline.
func (c *Client) reportError(stage string, err error) {
	c.logger.Warn("recovered supervision failure", "stage", stage, "error", err)
	if c.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("error callback panicked", "panic", r)
		}
	}()
	c.onError(err)
}
