// Command example wires a Transport, a reference mcpserver.Server with one
// "echo" tool, and an httpserver listener into a runnable demo --
// grounded on gate4ai's server/cmd/mcp-example-server/main.go wiring
// pattern (build logger, build manager, build transport, start listener,
// wait for signal, shut down).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gate4ai/streamhttp/config"
	"github.com/gate4ai/streamhttp/internal/auth"
	"github.com/gate4ai/streamhttp/internal/transport"
	"github.com/gate4ai/streamhttp/httpserver"
	"github.com/gate4ai/streamhttp/mcpserver"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	stateful := flag.Bool("stateful", true, "enable stateful sessions")
	requireAuth := flag.Bool("require-auth", false, "require a bearer token on every request")
	configPath := flag.String("config", "", "path to a streamhttp.yaml config file (optional; flags above are defaults when unset)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	authRealm := "mcp-example"
	transportOpts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithStateful(*stateful),
		transport.WithRequestTimeout(30 * time.Second),
		transport.WithSessionTimeout(time.Hour),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		cfg, err := config.Load(*configPath, logger)
		if err != nil {
			logger.Fatal("failed to load config file", zap.String("path", *configPath), zap.Error(err))
		}
		if err := cfg.Watch(ctx); err != nil {
			logger.Warn("config hot-reload watch failed to start", zap.Error(err))
		}
		authRealm = cfg.AuthRealm()
		transportOpts = []transport.Option{
			transport.WithLogger(logger),
			transport.WithStateful(cfg.Stateful()),
			transport.WithJSONResponse(cfg.EnableJSONResponse()),
			transport.WithMaxBodySize(cfg.MaxBodySize()),
			transport.WithRequestTimeout(cfg.RequestTimeout()),
			transport.WithSessionTimeout(cfg.SessionTimeout()),
			transport.WithAllowedOrigins(cfg.AllowedOrigins()),
			transport.WithResumability(cfg.EnableResumability()),
		}
	}

	srv := mcpserver.New(mcpserver.Info{Name: "streamhttp-example", Version: "0.1.0"}, logger)
	srv.AddTool("echo", "Echoes the message argument back", json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error) {
			var args struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(arguments, &args)
			out, _ := json.Marshal(map[string]any{"type": "text", "text": args.Message})
			return out, nil
		})

	tr, err := transport.New(srv, transportOpts...)
	if err != nil {
		logger.Fatal("failed to build transport", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		tr.HandleRequest(w, r, &transport.RequestOptions{})
	})

	var handler http.Handler = mux
	if *requireAuth {
		mw := auth.New(devTokenVerifier, authRealm)
		mw.RequiredScopes = []string{"mcp.invoke"}
		wrapped := http.NewServeMux()
		wrapped.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
			mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
				tr.HandleRequest(w, r, opts)
			}, w, r)
		})
		handler = wrapped
	}

	server, listenErr, err := httpserver.Start(ctx, logger, *addr, handler, nil)
	if err != nil {
		logger.Fatal("failed to start listener", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			logger.Error("listener exited with error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpserver.Shutdown(shutdownCtx, logger, server)
	if err := tr.Close(); err != nil {
		logger.Error("transport close failed", zap.Error(err))
	}
}

// devTokenVerifier is a placeholder verifier good only for local
// experimentation: any non-empty token is accepted with the
// "mcp.invoke" scope. A production deployment must supply a real
// Verifier (JWT validation, an introspection endpoint, etc).
func devTokenVerifier(r *http.Request, token string) (*transport.AuthInfo, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return &transport.AuthInfo{Token: token, Claims: map[string]interface{}{}, Scopes: []string{"mcp.invoke"}}, nil
}
