package kaizen

import (
	"log/slog"

	"github.com/ashita-ai/kaizen/internal/store"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	port           int
	storageBackend string
	databaseURL    string
	sqlitePath     string
	logger         *slog.Logger
	version        string
	source         store.Source
	sink           store.Sink
	actionApplier  ActionApplier
	implementer    Implementer
	failureHooks   []FailureHook
	disableTicker  bool
}

// WithPort overrides the TCP port from config (KAIZEN_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStorageBackend overrides the storage backend from config
// (KAIZEN_STORAGE env var): "postgres", "sqlite" or "memory".
func WithStorageBackend(backend string) Option {
	return func(o *resolvedOptions) { o.storageBackend = backend }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite database file (KAIZEN_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSource replaces the configured backend as the behavioral data source.
func WithSource(src store.Source) Option {
	return func(o *resolvedOptions) { o.source = src }
}

// WithSink replaces the configured backend as the persistence sink. When
// both WithSource and WithSink are given no backend is opened.
func WithSink(sink store.Sink) Option {
	return func(o *resolvedOptions) { o.sink = sink }
}

// WithActionApplier replaces the default corrective-action applier, which
// only logs what it would do.
func WithActionApplier(a ActionApplier) Option {
	return func(o *resolvedOptions) { o.actionApplier = a }
}

// WithImplementer replaces the default improvement implementer, which only
// logs what it would do.
func WithImplementer(i Implementer) Option {
	return func(o *resolvedOptions) { o.implementer = i }
}

// WithFailureHook registers a hook notified of every agent failure.
func WithFailureHook(h FailureHook) Option {
	return func(o *resolvedOptions) { o.failureHooks = append(o.failureHooks, h) }
}

// WithoutScheduler disables the periodic ShouldRunOrchestration check
// regardless of KAIZEN_SCHEDULER_INTERVAL. Cycles then only run when an
// operator asks for one.
func WithoutScheduler() Option {
	return func(o *resolvedOptions) { o.disableTicker = true }
}
