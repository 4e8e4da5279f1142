package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (e *countingExpirer) CancelExpired(ctx context.Context) (int, error) {
	e.calls.Add(1)
	return 1, e.err
}

func TestSweeper_SweepsUntilStopped(t *testing.T) {
	exp := &countingExpirer{}
	s := New(Config{Escrow: exp, Interval: 5 * time.Millisecond})
	s.Start(context.Background())

	require.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	after := exp.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, exp.calls.Load())
}

func TestSweeper_KeepsGoingAfterErrors(t *testing.T) {
	exp := &countingExpirer{err: errors.New("database is locked")}
	s := New(Config{Escrow: exp, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSweeper_DefaultInterval(t *testing.T) {
	s := New(Config{Escrow: &countingExpirer{}})
	assert.Equal(t, 30*time.Second, s.interval)
}
