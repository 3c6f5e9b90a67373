package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeStopper struct {
	err     error
	stopped bool
	ctx     context.Context
}

func (f *fakeStopper) Stop(ctx context.Context) error {
	f.stopped = true
	f.ctx = ctx
	return f.err
}

type fakeSink struct {
	synced, closed bool
	closeErr       error
}

func (f *fakeSink) Sync() error {
	f.synced = true
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return f.closeErr
}

func TestShutdownHook(t *testing.T) {
	t.Run("StopsAndClosesSink", func(t *testing.T) {
		svc := &fakeStopper{}
		sink := &fakeSink{}
		hook := &ShutdownHook{Service: svc, Sink: sink, Timeout: time.Second}

		assert.Equal(t, 0, hook.Run("test"))
		assert.True(t, svc.stopped)
		assert.True(t, sink.synced)
		assert.True(t, sink.closed)

		_, hasDeadline := svc.ctx.Deadline()
		assert.True(t, hasDeadline)
	})

	t.Run("StopErrorStillExitsZero", func(t *testing.T) {
		svc := &fakeStopper{err: errors.New("listener already closed")}
		sink := &fakeSink{closeErr: errors.New("bad descriptor")}
		hook := &ShutdownHook{Service: svc, Sink: sink}

		assert.Equal(t, 0, hook.Run("test"))
		assert.True(t, sink.closed)
	})

	t.Run("CleanupRunsBeforeSinkClose", func(t *testing.T) {
		sink := &fakeSink{}
		var sinkOpenDuringCleanup bool
		hook := &ShutdownHook{
			Service: &fakeStopper{},
			Sink:    sink,
			Cleanup: []func(context.Context) error{
				func(context.Context) error {
					sinkOpenDuringCleanup = !sink.closed
					return errors.New("exporter unreachable")
				},
			},
		}

		assert.Equal(t, 0, hook.Run("test"))
		assert.True(t, sinkOpenDuringCleanup)
	})

	t.Run("NilServiceAndSink", func(t *testing.T) {
		assert.Equal(t, 0, (&ShutdownHook{}).Run("test"))
	})
}

func TestWaitForSignalContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "context canceled", WaitForSignal(ctx))
}
