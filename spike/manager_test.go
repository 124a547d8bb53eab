package spike

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type congestion struct {
	level float64
}

var errUpstream = errors.New("upstream unavailable")

func TestGetResult_Coalesces(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	m := NewManager(func(ctx context.Context, k string) (congestion, error) {
		calls.Add(1)
		<-release
		return congestion{level: 0.4}, nil
	}, time.Minute, 0)

	var wg sync.WaitGroup
	results := make([]congestion, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetResult(context.Background(), "market")
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	// let the callers register before the fetch completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Equal(t, 0.4, r.level)
	}

	// served from cache
	v, err := m.GetResult(context.Background(), "market")
	require.NoError(t, err)
	require.Equal(t, 0.4, v.level)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetResult_Expiry(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(func(ctx context.Context, k string) (int, error) {
		return int(calls.Add(1)), nil
	}, 20*time.Millisecond, 0)

	v, err := m.GetResult(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	time.Sleep(60 * time.Millisecond)

	v, err = m.GetResult(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestGetResult_Errors(t *testing.T) {
	t.Run("not cached", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManager(func(ctx context.Context, k string) (int, error) {
			calls.Add(1)
			return 0, errUpstream
		}, time.Minute, 0)

		for i := 0; i < 3; i++ {
			_, err := m.GetResult(context.Background(), "k")
			require.ErrorIs(t, err, errUpstream)
		}
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("cached", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManager(func(ctx context.Context, k string) (int, error) {
			calls.Add(1)
			return 0, errUpstream
		}, time.Minute, time.Minute)

		for i := 0; i < 3; i++ {
			_, err := m.GetResult(context.Background(), "k")
			require.ErrorIs(t, err, errUpstream)
		}
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestGetResult_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewManager(func(ctx context.Context, k string) (int, error) {
		<-release
		return 1, nil
	}, time.Minute, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.GetResult(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetResult_FetchTimeout(t *testing.T) {
	m := NewManager(func(ctx context.Context, k string) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, time.Minute, 0)
	m.SetFetchTimeout(10 * time.Millisecond)

	_, err := m.GetResult(context.Background(), "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewCustomManager(t *testing.T) {
	store := make(map[string]string)
	var mu sync.Mutex
	m := NewCustomManager(Handler[string]{
		Fetch: func(ctx context.Context, k string) (string, error) {
			return "fetched-" + k, nil
		},
		Set: func(k, v string) {
			mu.Lock()
			defer mu.Unlock()
			store[k] = v
		},
		Get: func(k string) (string, bool) {
			mu.Lock()
			defer mu.Unlock()
			v, ok := store[k]
			return v, ok
		},
	})

	v, err := m.GetResult(context.Background(), "sol")
	require.NoError(t, err)
	require.Equal(t, "fetched-sol", v)

	mu.Lock()
	store["sol"] = "overridden"
	mu.Unlock()

	v, err = m.GetResult(context.Background(), "sol")
	require.NoError(t, err)
	require.Equal(t, "overridden", v)
}
