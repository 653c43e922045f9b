// Package httpserver bootstraps the HTTP/HTTPS listener in front of a
// transport.Transport, grounded on gate4ai's
// server/transport/http.go (StartHTTPServer / ShutdownHTTPServer):
// production timeouts, a context-propagating BaseContext, and optional
// ACME (Let's Encrypt) TLS via golang.org/x/crypto/acme/autocert,
// adapted from its IConfig-driven setup to an explicit TLSOptions value.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// TLSOptions configures HTTPS termination. Mode is "manual" (CertFile /
// KeyFile) or "acme" (AcmeDomains / AcmeEmail / AcmeCacheDir).
type TLSOptions struct {
	Enabled      bool
	Mode         string
	CertFile     string
	KeyFile      string
	AcmeDomains  []string
	AcmeEmail    string
	AcmeCacheDir string
}

// Start launches an http.Server serving handler at addr, returning the
// server and a channel that reports a listener error after startup (the
// channel closes when the listener exits).
func Start(ctx context.Context, logger *zap.Logger, addr string, handler http.Handler, tlsOpts *TLSOptions) (*http.Server, <-chan error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, nil, errors.New("httpserver: handler must not be nil")
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // long enough for an SSE stream's first flush
		IdleTimeout:  90 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	isACME := false
	var certFile, keyFile string
	if tlsOpts != nil && tlsOpts.Enabled {
		if tlsOpts.Mode == "acme" {
			isACME = true
			if len(tlsOpts.AcmeDomains) == 0 {
				return nil, nil, fmt.Errorf("httpserver: acme mode requires at least one domain")
			}
			if err := os.MkdirAll(tlsOpts.AcmeCacheDir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("httpserver: acme cache dir: %w", err)
			}
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(tlsOpts.AcmeDomains...),
				Email:      tlsOpts.AcmeEmail,
				Cache:      autocert.DirCache(tlsOpts.AcmeCacheDir),
			}
			server.TLSConfig = certManager.TLSConfig()
			go serveACMEChallenge(logger, certManager)
		} else {
			certFile, keyFile = tlsOpts.CertFile, tlsOpts.KeyFile
			if certFile == "" || keyFile == "" {
				return nil, nil, fmt.Errorf("httpserver: manual TLS mode requires cert and key file paths")
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		var err error
		switch {
		case tlsOpts != nil && tlsOpts.Enabled && isACME:
			logger.Info("starting HTTPS listener (acme)", zap.String("addr", addr))
			err = server.ListenAndServeTLS("", "")
		case tlsOpts != nil && tlsOpts.Enabled:
			logger.Info("starting HTTPS listener", zap.String("addr", addr))
			err = server.ListenAndServeTLS(certFile, keyFile)
		default:
			logger.Info("starting HTTP listener", zap.String("addr", addr))
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listener error", zap.Error(err))
			errCh <- err
		}
	}()

	return server, errCh, nil
}

func serveACMEChallenge(logger *zap.Logger, mgr autocert.Manager) {
	challengeServer := &http.Server{Addr: ":80", Handler: mgr.HTTPHandler(nil)}
	logger.Info("starting ACME HTTP challenge listener", zap.String("addr", ":80"))
	if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ACME challenge listener error", zap.Error(err))
	}
}

// Shutdown attempts a graceful shutdown of server within ctx's deadline.
func Shutdown(ctx context.Context, logger *zap.Logger, server *http.Server) {
	if server == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("server shut down gracefully")
	}
}
