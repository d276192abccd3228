package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(handler http.Handler) *Config {
	cfg := DefaultConfig("127.0.0.1:0", handler)
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.EqualError(t, err, "server config cannot be nil")

	_, err = New(&Config{ShutdownTimeout: time.Second})
	assert.EqualError(t, err, "handler cannot be nil")

	_, err = New(&Config{Handler: http.NotFoundHandler()})
	assert.EqualError(t, err, "shutdown timeout must be positive")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("localhost:3000", http.NotFoundHandler())

	assert.Equal(t, "localhost:3000", cfg.Address)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
}

func TestServer_RunAndShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := testConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	cfg.Logger = zap.New(core)

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	var hooks []string
	srv.RegisterHook(func(ctx context.Context) error {
		hooks = append(hooks, "store")
		return nil
	})
	srv.RegisterHook(func(ctx context.Context) error {
		hooks = append(hooks, "limiter")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.Equal(t, []string{"store", "limiter"}, hooks)
	assert.Equal(t, 1, logs.FilterMessage("server listening").Len())
	assert.Equal(t, 1, logs.FilterMessage("server shutdown completed").Len())
}

func TestServer_HookErrors(t *testing.T) {
	srv, err := New(testConfig(http.NotFoundHandler()))
	require.NoError(t, err)

	ran := false
	srv.RegisterHook(func(ctx context.Context) error { return errors.New("close failed") })
	srv.RegisterHook(func(ctx context.Context) error {
		ran = true
		return nil
	})

	err = srv.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.True(t, ran, "later hooks still run")
}

func TestServer_ListenError(t *testing.T) {
	first, err := New(testConfig(http.NotFoundHandler()))
	require.NoError(t, err)
	require.NoError(t, first.Listen())
	defer first.Shutdown(context.Background())

	second, err := New(testConfig(http.NotFoundHandler()))
	require.NoError(t, err)
	second.config.Address = first.Addr()

	err = second.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create listener")
}
