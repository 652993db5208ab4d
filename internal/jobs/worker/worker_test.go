package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolClampsConcurrency(t *testing.T) {
	require.Equal(t, MinConcurrency, NewPool(logger.NewNop(), 0).Size())
	require.Equal(t, MaxConcurrency, NewPool(logger.NewNop(), 64).Size())
	require.Equal(t, 2, NewPool(logger.NewNop(), 2).Size())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(logger.NewNop(), 2)
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			errs <- p.Do(ctx, "work", func(context.Context) error {
				n := inFlight.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.NoError(t, p.Stop(ctx))
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(logger.NewNop(), 1)
	err := p.Do(context.Background(), "boom", func(context.Context) error {
		panic("stage exploded")
	})
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Contains(t, err.Error(), "stage exploded")

	// The slot is released after a panic.
	require.NoError(t, p.Do(context.Background(), "after", func(context.Context) error { return nil }))
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolReturnsTaskError(t *testing.T) {
	p := NewPool(logger.NewNop(), 1)
	want := errors.New("nope")
	require.ErrorIs(t, p.Do(context.Background(), "fail", func(context.Context) error { return want }), want)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolHonoursContext(t *testing.T) {
	p := NewPool(logger.NewNop(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p := NewPool(logger.NewNop(), 1)
	require.NoError(t, p.Stop(context.Background()))
	require.ErrorIs(t, p.Do(context.Background(), "late", func(context.Context) error { return nil }), ErrPoolClosed)
}
