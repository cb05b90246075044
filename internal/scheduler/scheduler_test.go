package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"SendQueue/internal/metrics"
	"SendQueue/internal/worker"
)

type countingProcessor struct {
	calls  atomic.Int32
	limits chan int
	err    error
}

func (p *countingProcessor) Run(_ context.Context, limit int) (worker.Summary, error) {
	p.calls.Add(1)
	select {
	case p.limits <- limit:
	default:
	}
	return worker.Summary{Processed: 1}, p.err
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, time.Second, 10, nil, nil)
	assert.Error(t, err)

	_, err = New(&countingProcessor{}, 0, 10, nil, nil)
	assert.Error(t, err)
}

func TestStartRunsImmediately(t *testing.T) {
	proc := &countingProcessor{limits: make(chan int, 1)}
	s, err := New(proc, time.Hour, 7, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case limit := <-proc.limits:
		assert.Equal(t, 7, limit)
	case <-time.After(2 * time.Second):
		t.Fatal("first pass did not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestStartKeepsTickingAfterErrors(t *testing.T) {
	proc := &countingProcessor{
		err: &worker.Error{Kind: worker.KindConfig, Err: errors.New("SENDING_DOMAIN is not set")},
	}
	m := metrics.New(nil)
	s, err := New(proc, 5*time.Millisecond, 10, zaptest.NewLogger(t), m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	assert.Eventually(t, func() bool { return proc.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
