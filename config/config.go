// Package config loads the transport's operator-facing configuration file
// (YAML) and watches it for changes, grounded on gate4ai's
// shared/config/yaml.go YamlConfig: a mutex-guarded struct populated by
// Update() re-reading the file, with the same field set the code
// constructs transport.Option values from.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the subset of transport.Option fields an operator may want to
// configure without recompiling, plus the AuthMiddleware realm.
type File struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger

	stateful           bool
	enableJSONResponse bool
	maxBodySize        int64
	requestTimeout     time.Duration
	sessionTimeout     time.Duration
	allowedOrigins     []string
	enableResumability bool
	authRealm          string
}

type yamlFile struct {
	Transport struct {
		Stateful            bool     `yaml:"stateful"`
		EnableJSONResponse  bool     `yaml:"enable_json_response"`
		MaxBodySizeBytes    int64    `yaml:"max_body_size_bytes"`
		RequestTimeoutMS    int64    `yaml:"request_timeout_ms"`
		SessionTimeoutMS    int64    `yaml:"session_timeout_ms"`
		AllowedOrigins      []string `yaml:"allowed_origins"`
		EnableResumability  *bool    `yaml:"enable_resumability"`
	} `yaml:"transport"`
	Auth struct {
		Realm string `yaml:"realm"`
	} `yaml:"auth"`
}

// Load reads and parses path, applying defaults for any field the file
// omits.
func Load(path string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &File{
		path:               path,
		logger:             logger,
		maxBodySize:        1_048_576,
		requestTimeout:     30 * time.Second,
		sessionTimeout:     time.Hour,
		allowedOrigins:     []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"},
		enableResumability: true,
		authRealm:          "mcp",
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file from disk, called on startup and by Watch on
// every fsnotify write event.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var parsed yamlFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.stateful = parsed.Transport.Stateful
	f.enableJSONResponse = parsed.Transport.EnableJSONResponse
	if parsed.Transport.MaxBodySizeBytes > 0 {
		f.maxBodySize = parsed.Transport.MaxBodySizeBytes
	}
	if parsed.Transport.RequestTimeoutMS > 0 {
		f.requestTimeout = time.Duration(parsed.Transport.RequestTimeoutMS) * time.Millisecond
	}
	if parsed.Transport.SessionTimeoutMS > 0 {
		f.sessionTimeout = time.Duration(parsed.Transport.SessionTimeoutMS) * time.Millisecond
	}
	if len(parsed.Transport.AllowedOrigins) > 0 {
		f.allowedOrigins = normalizeOrigins(parsed.Transport.AllowedOrigins)
	}
	if parsed.Transport.EnableResumability != nil {
		f.enableResumability = *parsed.Transport.EnableResumability
	}
	if parsed.Auth.Realm != "" {
		f.authRealm = parsed.Auth.Realm
	}

	f.logger.Info("configuration reloaded", zap.String("path", f.path))
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (f *File) Stateful() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stateful
}

func (f *File) EnableJSONResponse() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enableJSONResponse
}

func (f *File) MaxBodySize() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxBodySize
}

func (f *File) RequestTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.requestTimeout
}

func (f *File) SessionTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionTimeout
}

// AllowedOrigins and AuthRealm are the two fields that can change without
// disrupting in-flight sessions. Reload refreshes every field's getter,
// not only these two; cmd/example reads all of them once, at startup, so a
// reload does not reach a Transport or Middleware that is already built.
func (f *File) AllowedOrigins() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.allowedOrigins))
	copy(out, f.allowedOrigins)
	return out
}

func (f *File) EnableResumability() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enableResumability
}

func (f *File) AuthRealm() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.authRealm
}
