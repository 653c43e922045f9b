package transport

import (
	"time"

	"github.com/gate4ai/streamhttp/internal/session"
	"go.uber.org/zap"
)

// defaultAllowedOrigins is the localhost set from section 4.1.2.
var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

const (
	defaultMaxBodySize     = 1_048_576
	defaultRequestTimeout  = 30 * time.Second
	defaultSessionTimeout  = time.Hour
	defaultCleanupInterval = time.Minute
)

type config struct {
	logger              *zap.Logger
	stateful            bool
	sessionStore        session.Store
	enableJSONResponse  bool
	maxBodySize         int64
	requestTimeout      time.Duration
	sessionTimeout      time.Duration
	cleanupInterval     time.Duration
	allowedOrigins      []string
	enableResumability  bool
}

func defaultConfig() *config {
	return &config{
		logger:             zap.NewNop(),
		stateful:           false,
		maxBodySize:        defaultMaxBodySize,
		requestTimeout:     defaultRequestTimeout,
		sessionTimeout:     defaultSessionTimeout,
		cleanupInterval:    defaultCleanupInterval,
		allowedOrigins:     append([]string{}, defaultAllowedOrigins...),
		enableResumability: true,
	}
}

// Option configures a Transport at construction time, the functional
// options pattern used throughout the teacher's server/transport package.
type Option func(*config) error

func WithLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithStateful enables persistent sessions (section 6.3, default false).
func WithStateful(stateful bool) Option {
	return func(c *config) error {
		c.stateful = stateful
		return nil
	}
}

// WithSessionStore replaces the in-memory SessionStore used in stateful
// mode (default in-memory).
func WithSessionStore(store session.Store) Option {
	return func(c *config) error {
		c.sessionStore = store
		return nil
	}
}

// WithJSONResponse switches request replies to a single JSON body instead
// of SSE (section 6.3, default false).
func WithJSONResponse(enabled bool) Option {
	return func(c *config) error {
		c.enableJSONResponse = enabled
		return nil
	}
}

// WithMaxBodySize bounds the accepted POST body in bytes (default
// 1,048,576).
func WithMaxBodySize(n int64) Option {
	return func(c *config) error {
		c.maxBodySize = n
		return nil
	}
}

// WithRequestTimeout bounds how long a request may stay pending before a
// synthetic -32001 error is emitted (default 30s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.requestTimeout = d
		return nil
	}
}

// WithSessionTimeout bounds session idle time in stateful mode (default
// 1h).
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.sessionTimeout = d
		return nil
	}
}

// WithCleanupInterval sets how often the idle-session sweep runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) error {
		c.cleanupInterval = d
		return nil
	}
}

// WithAllowedOrigins replaces the default localhost allow-list. A single
// "*" entry disables the check entirely (section 4.1.2).
func WithAllowedOrigins(origins []string) Option {
	return func(c *config) error {
		c.allowedOrigins = append([]string{}, origins...)
		return nil
	}
}

// WithResumability toggles Last-Event-ID replay (stateful only, default
// true).
func WithResumability(enabled bool) Option {
	return func(c *config) error {
		c.enableResumability = enabled
		return nil
	}
}
