package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	k := newKeyedLock()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
	)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			unlock, err := k.Lock(context.Background(), "BTC/USD")
			if err != nil {
				return err
			}
			defer unlock()

			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, k.size())
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	t.Parallel()

	k := newKeyedLock()
	unlockBTC, err := k.Lock(context.Background(), "BTC/USD")
	require.NoError(t, err)
	defer unlockBTC()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockETH, err := k.Lock(ctx, "ETH/USD")
	require.NoError(t, err)
	unlockETH()
}

func TestKeyedLockHonorsContext(t *testing.T) {
	t.Parallel()

	k := newKeyedLock()
	unlock, err := k.Lock(context.Background(), "BTC/USD")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "BTC/USD")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Zero(t, k.size())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u, err := k.Lock(context.Background(), "BTC/USD")
		if assert.NoError(t, err) {
			u()
		}
	}()
	wg.Wait()
}
