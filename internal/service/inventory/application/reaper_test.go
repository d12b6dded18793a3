package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/pkg/clock"
)

type fakeReleaser struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (f *fakeReleaser) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return f.n, f.err
}

func (f *fakeReleaser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type countingLocker struct {
	acquired, released int
	err                error
}

func (l *countingLocker) Acquire(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func TestSweepUsesClockAndLock(t *testing.T) {
	fc := clock.NewFake(start)
	rel := &fakeReleaser{n: 3}
	lock := &countingLocker{}
	r := NewExpiryReaper(rel, fc, time.Minute, lock)

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Time{start}, rel.calls)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestSweepFailsWithoutLock(t *testing.T) {
	rel := &fakeReleaser{}
	r := NewExpiryReaper(rel, nil, time.Minute, &countingLocker{err: errors.New("zk down")})

	_, err := r.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, rel.callCount())
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	rel := &fakeReleaser{n: 1}
	r := NewExpiryReaper(rel, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return rel.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
