package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

const defaultFetchTimeout = 30 * time.Second

// Memo memoizes upstream fetches in a Store. Concurrent misses on one key
// share a single fetch.
type Memo struct {
	name    string
	store   *Store
	group   singleflight.Group
	metrics *metrics.Metrics

	// FetchTimeout bounds a shared fetch, which outlives any one caller.
	FetchTimeout time.Duration

	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

func NewMemo(name string, store *Store, m *metrics.Metrics) *Memo {
	if store == nil {
		store = NewStore(nil)
	}
	return &Memo{
		name:         name,
		store:        store,
		metrics:      m,
		FetchTimeout: defaultFetchTimeout,
		gens:         map[string]uint64{},
	}
}

// generation changes whenever key is invalidated, directly or via
// InvalidateAll.
func (m *Memo) generation(key string) [2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return [2]uint64{m.epoch, m.gens[key]}
}

// storeIfCurrent writes val unless key was invalidated after gen was taken.
func (m *Memo) storeIfCurrent(key string, gen [2]uint64, val any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != gen[0] || m.gens[key] != gen[1] {
		return
	}
	m.store.Set(key, val, ttl)
}

// GetOrFetch returns the fresh value under key, or calls fetch, stores its
// result for ttl and returns it. Empty results are cached; errors are not.
// The shared fetch is detached from ctx cancellation; a caller whose ctx ends
// stops waiting without failing the others.
func GetOrFetch[T any](ctx context.Context, m *Memo, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := m.store.Get(key); ok {
		if typed, ok := v.(T); ok {
			m.metrics.ObserveCacheLookup(m.name, true)
			return typed, nil
		}
	}
	m.metrics.ObserveCacheLookup(m.name, false)

	ch := m.group.DoChan(key, func() (any, error) {
		if v, ok := m.store.Get(key); ok {
			if _, ok := v.(T); ok {
				return v, nil
			}
		}
		gen := m.generation(key)

		fetchCtx := context.WithoutCancel(ctx)
		if m.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, m.FetchTimeout)
			defer cancel()
		}
		val, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		m.storeIfCurrent(key, gen, val, ttl)
		return val, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return zero, res.Err
	}

	typed, ok := res.Val.(T)
	if !ok {
		return zero, fmt.Errorf("cache %s: key %q holds %T", m.name, key, res.Val)
	}
	return typed, nil
}

// Invalidate drops key and detaches any in-flight fetch for it, so the next
// call goes upstream again. A fetch that started earlier does not write its
// result back.
func (m *Memo) Invalidate(key string) {
	m.mu.Lock()
	m.gens[key]++
	m.store.Delete(key)
	m.mu.Unlock()
	m.group.Forget(key)
}

func (m *Memo) InvalidateAll() {
	m.mu.Lock()
	m.epoch++
	m.gens = map[string]uint64{}
	m.store.Clear()
	m.mu.Unlock()
}
