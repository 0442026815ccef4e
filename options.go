package olakai

import (
	"io"
	"time"
)

// Priority orders monitoring delivery. High-priority events flush
// immediately instead of waiting for the batch trigger.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SanitizePattern is one redaction rule applied by the sanitize pass:
// either a regular expression over the serialized text, or a JSON key
// whose values get replaced.
type SanitizePattern struct {
	Pattern     string
	Key         string
	Replacement string
}

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	batchSize       int
	batchTimeout    time.Duration
	retries         int
	requestTimeout  time.Duration
	controlTimeout  time.Duration
	maxQueueSize    int
	storageDisabled bool
	storagePath     string
	maxStorageBytes int64
	debug           bool
	verbose         bool
	onError         func(error)
	patterns        []SanitizePattern
	logOutput       io.Writer
}

// WithBatchSize sets how many payloads trigger (and fill) one batch.
func WithBatchSize(n int) Option {
	return func(c *clientConfig) { c.batchSize = n }
}

// WithBatchTimeout sets how long the oldest pending payload may wait
// before a flush is forced.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.batchTimeout = d }
}

// WithRetries sets how many times a failed batch is resent, beyond the
// initial attempt, before it is persisted or dropped.
func WithRetries(n int) Option {
	return func(c *clientConfig) { c.retries = n }
}

// WithTimeout sets the per-request network timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.requestTimeout = d }
}

// WithControlTimeout bounds the pre-call authorization request separately
// from monitoring delivery. Unset, the general request timeout applies.
func WithControlTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.controlTimeout = d }
}

// WithMaxQueueSize caps the number of pending payloads; beyond it the
// oldest unsent entry is evicted.
func WithMaxQueueSize(n int) Option {
	return func(c *clientConfig) { c.maxQueueSize = n }
}

// WithoutStorage disables durable local persistence of the queue.
func WithoutStorage() Option {
	return func(c *clientConfig) { c.storageDisabled = true }
}

// WithStoragePath sets where the durable queue database lives.
func WithStoragePath(path string) Option {
	return func(c *clientConfig) { c.storagePath = path }
}

// WithMaxStorageBytes bounds the durable queue database file.
func WithMaxStorageBytes(n int64) Option {
	return func(c *clientConfig) { c.maxStorageBytes = n }
}

// WithDebug raises SDK logging to informational level.
func WithDebug() Option {
	return func(c *clientConfig) { c.debug = true }
}

// WithVerbose raises SDK logging to debug level.
func WithVerbose() Option {
	return func(c *clientConfig) { c.verbose = true }
}

// WithErrorCallback registers a function invoked for recovered failures:
// exhausted batches, middleware errors, capture errors. It must be fast
// and must not panic (panics are swallowed).
func WithErrorCallback(fn func(error)) Option {
	return func(c *clientConfig) { c.onError = fn }
}

// WithSanitizePatterns adds redaction rules on top of the built-in set.
func WithSanitizePatterns(patterns ...SanitizePattern) Option {
	return func(c *clientConfig) { c.patterns = append(c.patterns, patterns...) }
}

// WithLogOutput redirects SDK logs, which default to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(c *clientConfig) { c.logOutput = w }
}

// SupervisorOption configures a single Supervise call.
type SupervisorOption func(*supervisorConfig)

type supervisorConfig struct {
	task                    string
	subTask                 string
	email                   string
	emailFunc               func(args any) string
	chatID                  string
	chatIDFunc              func(args any) string
	capture                 CaptureFunc
	sanitize                bool
	priority                Priority
	sendOnFunctionError     bool
	controlDisabled         bool
	overrideControlCriteria []string
	errorCapture            func(err error) string
}

func newSupervisorConfig(opts []SupervisorOption) supervisorConfig {
	sc := supervisorConfig{
		email:               "anonymous@olakai.ai",
		chatID:              "anonymous",
		priority:            PriorityNormal,
		sendOnFunctionError: true,
	}
	for _, o := range opts {
		o(&sc)
	}
	return sc
}

// WithTask labels the supervised call with a task identifier.
func WithTask(task string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.task = task }
}

// WithSubTask labels the supervised call with a subtask identifier.
func WithSubTask(subTask string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.subTask = subTask }
}

// WithUserEmail attributes calls to a fixed user identity.
func WithUserEmail(email string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.email = email }
}

// WithUserEmailFunc derives the user identity from the call argument.
func WithUserEmailFunc(fn func(args any) string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.emailFunc = fn }
}

// WithChatID attributes calls to a fixed session.
func WithChatID(chatID string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.chatID = chatID }
}

// WithChatIDFunc derives the session from the call argument.
func WithChatIDFunc(fn func(args any) string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.chatIDFunc = fn }
}

// WithCapture replaces the default capture behavior entirely.
func WithCapture(fn CaptureFunc) SupervisorOption {
	return func(sc *supervisorConfig) { sc.capture = fn }
}

// WithSanitize redacts sensitive material from captured data.
func WithSanitize() SupervisorOption {
	return func(sc *supervisorConfig) { sc.sanitize = true }
}

// WithPriority sets the delivery priority tier of this call's events.
func WithPriority(p Priority) SupervisorOption {
	return func(sc *supervisorConfig) { sc.priority = p }
}

// WithSendOnFunctionError controls whether a failing wrapped function
// still emits a monitoring event. Default true; the original error always
// propagates either way.
func WithSendOnFunctionError(send bool) SupervisorOption {
	return func(sc *supervisorConfig) { sc.sendOnFunctionError = send }
}

// WithoutControl skips the pre-call authorization stage for this wrapper.
func WithoutControl() SupervisorOption {
	return func(sc *supervisorConfig) { sc.controlDisabled = true }
}

// WithOverrideControlCriteria forwards policy criteria overrides to the
// control endpoint.
func WithOverrideControlCriteria(criteria ...string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.overrideControlCriteria = criteria }
}

// WithErrorCapture customizes how a wrapped function's error is rendered
// into the monitoring payload.
func WithErrorCapture(fn func(err error) string) SupervisorOption {
	return func(sc *supervisorConfig) { sc.errorCapture = fn }
}
