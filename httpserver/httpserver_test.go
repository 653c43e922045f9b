package httpserver_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gate4ai/streamhttp/httpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	return "127.0.0.1:0"
}

func TestStart_RejectsNilHandler(t *testing.T) {
	_, _, err := httpserver.Start(context.Background(), zap.NewNop(), freeAddr(t), nil, nil)
	assert.Error(t, err)
}

func TestStart_ServesPlainHTTPAndShutsDownGracefully(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server, errCh, err := httpserver.Start(context.Background(), zap.NewNop(), "127.0.0.1:18743", handler, nil)
	require.NoError(t, err)
	require.NotNil(t, server)

	// give the listener goroutine a moment to bind.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18743/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	httpserver.Shutdown(ctx, zap.NewNop(), server)

	select {
	case _, open := <-errCh:
		assert.False(t, open, "errCh should be closed after a clean shutdown, not carry an error")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener goroutine to exit")
	}
}

func TestStart_ACMEModeWithoutDomains_ReturnsError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	_, _, err := httpserver.Start(context.Background(), zap.NewNop(), freeAddr(t), handler, &httpserver.TLSOptions{
		Enabled: true,
		Mode:    "acme",
	})
	assert.Error(t, err)
}

func TestStart_ManualTLSWithoutCertOrKey_ReturnsError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	_, _, err := httpserver.Start(context.Background(), zap.NewNop(), freeAddr(t), handler, &httpserver.TLSOptions{
		Enabled: true,
		Mode:    "manual",
	})
	assert.Error(t, err)
}

func TestShutdown_NilServerIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		httpserver.Shutdown(context.Background(), zap.NewNop(), nil)
	})
}
