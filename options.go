package kairo

import (
	"log/slog"

	"github.com/kairo-hq/kairo/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port             int
	sqlitePath       string
	databaseURL      string
	logger           *slog.Logger
	version          string
	completer        Completer
	impactClassifier ImpactClassifier
}

// apply overrides env-loaded settings with the ones set through options.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.sqlitePath != "" {
		cfg.Store = "sqlite"
		cfg.SQLitePath = o.sqlitePath
	}
	if o.databaseURL != "" {
		cfg.Store = "postgres"
		cfg.DatabaseURL = o.databaseURL
	}
}

// WithPort overrides the TCP port from config (KAIRO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithSQLitePath selects the embedded SQLite store at path, overriding
// KAIRO_STORE and KAIRO_SQLITE_PATH.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithDatabaseURL selects the PostgreSQL store at url, overriding KAIRO_STORE
// and DATABASE_URL. It wins over WithSQLitePath when both are set.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
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

// WithCompleter replaces the configured reasoning provider
// (KAIRO_REASONING_PROVIDER) with c.
func WithCompleter(c Completer) Option {
	return func(o *resolvedOptions) { o.completer = c }
}

// WithImpactClassifier replaces the rule that decides whether an executed
// playbook's impact counts as a success during retuning.
func WithImpactClassifier(fn ImpactClassifier) Option {
	return func(o *resolvedOptions) { o.impactClassifier = fn }
}
