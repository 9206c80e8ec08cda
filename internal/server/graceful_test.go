package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewDefaultsTimeout(t *testing.T) {
	gs := New(Config{
		Server: &http.Server{Addr: ":0"},
		Logger: zaptest.NewLogger(t),
	})

	require.NotNil(t, gs)
	assert.Equal(t, 30*time.Second, gs.shutdownTimeout)
}

func TestShutdownFunc(t *testing.T) {
	called := false
	sf := NewShutdownFunc("component", func(context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "component", sf.Name())
	require.NoError(t, sf.Shutdown(context.Background()))
	assert.True(t, called)
}

func TestShutdownRunsAllComponents(t *testing.T) {
	var count atomic.Int32

	gs := New(Config{
		Logger:          zaptest.NewLogger(t),
		ShutdownTimeout: 2 * time.Second,
	})
	gs.AddShutdownFunc("first", func(context.Context) error {
		count.Add(1)
		return nil
	})
	gs.AddShutdownFunc("second", func(context.Context) error {
		count.Add(1)
		return errors.New("close failed")
	})

	gs.shutdown()

	// A failing component does not stop the others.
	assert.Equal(t, int32(2), count.Load())
}

func TestShutdownStopsServerFirst(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}

	var serverDownBeforeComponent atomic.Bool
	gs := New(Config{
		Server:          srv,
		Logger:          zaptest.NewLogger(t),
		ShutdownTimeout: 2 * time.Second,
	})
	gs.AddShutdownFunc("probe", func(ctx context.Context) error {
		// By the time components run, the server no longer accepts
		// connections; Shutdown on an already-stopped server is a no-op.
		err := srv.Shutdown(ctx)
		serverDownBeforeComponent.Store(err == nil)
		return nil
	})

	gs.shutdown()
	assert.True(t, serverDownBeforeComponent.Load())
}

func TestStartReactsToSignal(t *testing.T) {
	var ran atomic.Bool
	gs := New(Config{
		Logger:          zaptest.NewLogger(t),
		ShutdownTimeout: time.Second,
	})
	gs.AddShutdownFunc("marker", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	done := make(chan struct{})
	go func() {
		gs.Start()
		close(done)
	}()

	// Deliver the signal directly rather than to the whole process.
	time.Sleep(50 * time.Millisecond)
	gs.signalChan <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.True(t, ran.Load())
}

func TestCloseHelpers(t *testing.T) {
	db := &fakeCloser{}
	require.NoError(t, CloseDB(db).Shutdown(context.Background()))
	assert.True(t, db.closed)

	rd := &fakeCloser{}
	require.NoError(t, CloseRedis(rd).Shutdown(context.Background()))
	assert.True(t, rd.closed)

	tracerClosed := false
	tracer := CloseTracer(func(context.Context) error {
		tracerClosed = true
		return nil
	})
	require.NoError(t, tracer.Shutdown(context.Background()))
	assert.True(t, tracerClosed)
	assert.Equal(t, "tracer", tracer.Name())
}

type fakeCloser struct {
	closed bool
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}
