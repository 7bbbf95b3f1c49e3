package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Size(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, New(3).Size())
	assert.Equal(t, 1, New(0).Size())
	assert.Equal(t, 1, New(-5).Size())
}

func TestDo_ReturnsResult(t *testing.T) {
	t.Parallel()

	p := New(2)

	v, err := Do(context.Background(), p, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	boom := errors.New("boom")
	_, err = Do(context.Background(), p, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestDo_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	p := New(size)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Do(context.Background(), p, func() (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Positive(t, peak.Load())
}

func TestDo_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	p := New(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = Do(context.Background(), p, func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	_, err := Do(ctx, p, func() (int, error) {
		ran.Store(true)
		return 2, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load(), "queued job must not run after its context expired")

	close(release)
}

func TestDo_CancelWhileRunningKeepsSlot(t *testing.T) {
	t.Parallel()

	p := New(1)
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func() (int, error) {
			<-release
			return 1, nil
		})
		errc <- err
	}()

	// Wait until the job holds the only slot.
	require.Eventually(t, func() bool {
		if p.sem.TryAcquire(1) {
			p.sem.Release(1)
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// The abandoned job still occupies the slot until it finishes.
	assert.False(t, p.sem.TryAcquire(1))
	close(release)
	assert.Eventually(t, func() bool {
		if p.sem.TryAcquire(1) {
			p.sem.Release(1)
			return true
		}
		return false
	}, time.Second, time.Millisecond)
}
