// Package spike coalesces concurrent requests for the same external resource into a single fetch
// and caches the result, so a burst of callers costs one upstream call
package spike

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCleanupInterval = 5 * time.Millisecond
	defaultFetchTimeout    = 5 * time.Second
	errorKeyPrefix         = "err:"
)

type Handler[T any] struct {
	Fetch func(ctx context.Context, k string) (T, error)
	Set   func(k string, v T)
	Get   func(k string) (T, bool)
	// SetError and GetError are optional, when set failed fetches are cached too
	SetError func(k string, err error)
	GetError func(k string) (error, bool)
}

type result[T any] struct {
	v T
	e error
}

type Manager[T any] struct {
	mu           sync.Mutex
	handler      Handler[T]
	fetchTimeout time.Duration
	inFlight     map[string][]chan<- result[T]
}

// NewCustomManager creates a new Manager with a cache implementation controlled by client code
func NewCustomManager[T any](h Handler[T]) *Manager[T] {
	return &Manager[T]{
		handler:      h,
		fetchTimeout: defaultFetchTimeout,
		inFlight:     make(map[string][]chan<- result[T]),
	}
}

// NewManager creates a new Manager backed by go-cache.
// Successful results are kept for cacheTime, errors for errorCacheTime (zero disables error caching).
func NewManager[T any](fetch func(ctx context.Context, k string) (T, error), cacheTime, errorCacheTime time.Duration) *Manager[T] {
	g := gocache.New(cacheTime, defaultCleanupInterval)
	h := Handler[T]{
		Fetch: fetch,
		Set: func(k string, v T) {
			g.Set(k, v, cacheTime)
		},
		Get: func(k string) (T, bool) {
			v, ok := g.Get(k)
			if !ok {
				var rt T
				return rt, false
			}
			//nolint:forcetypeassert
			return v.(T), true
		},
	}
	if errorCacheTime > 0 {
		h.SetError = func(k string, err error) {
			g.Set(errorKeyPrefix+k, err, errorCacheTime)
		}
		h.GetError = func(k string) (error, bool) {
			v, ok := g.Get(errorKeyPrefix + k)
			if !ok {
				return nil, false
			}
			//nolint:forcetypeassert
			return v.(error), true
		}
	}
	return NewCustomManager(h)
}

// SetFetchTimeout sets the timeout of a single upstream fetch
func (m *Manager[T]) SetFetchTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchTimeout = timeout
}

func (m *Manager[T]) cached(k string) (result[T], bool) {
	if v, ok := m.handler.Get(k); ok {
		return result[T]{v: v}, true
	}
	if m.handler.GetError != nil {
		if err, ok := m.handler.GetError(k); ok {
			return result[T]{e: err}, true
		}
	}
	return result[T]{}, false
}

func (m *Manager[T]) GetResult(ctx context.Context, k string) (T, error) { //nolint:ireturn
	if r, ok := m.cached(k); ok {
		return r.v, r.e
	}

	resChan := make(chan result[T], 1)

	m.mu.Lock()
	// the value could be stored while we were waiting for the lock
	if r, ok := m.cached(k); ok {
		m.mu.Unlock()
		return r.v, r.e
	}
	waiters, fetching := m.inFlight[k]
	m.inFlight[k] = append(waiters, resChan)
	timeout := m.fetchTimeout
	m.mu.Unlock()

	if !fetching {
		go m.fetch(k, timeout)
	}

	select {
	case <-ctx.Done():
		var tr T
		return tr, ctx.Err()
	case completed := <-resChan:
		return completed.v, completed.e
	}
}

// fetch is detached from the callers context, other callers may still wait for the result
func (m *Manager[T]) fetch(k string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, err := m.handler.Fetch(ctx, k)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.handler.SetError != nil {
			m.handler.SetError(k, err)
		}
	} else {
		m.handler.Set(k, v)
	}
	for _, ch := range m.inFlight[k] {
		ch <- result[T]{v: v, e: err}
		close(ch)
	}
	delete(m.inFlight, k)
}
