package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

// RemoteStore is a shared byte store that several service instances read
// and write. Get reports a miss with found=false and a nil error.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ResponseCache keeps serialized responses in a local Store and, when
// configured, in a RemoteStore. Remote failures degrade to local-only.
type ResponseCache struct {
	local   *Store
	remote  RemoteStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewResponseCache(local *Store, remote RemoteStore, logger *zap.Logger, m *metrics.Metrics) *ResponseCache {
	if local == nil {
		local = NewStore(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{local: local, remote: remote, log: logger, metrics: m}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.remote != nil {
		v, ok, err := c.remote.Get(ctx, key)
		switch {
		case err != nil:
			c.remoteFailed("get", key, err)
		case ok:
			c.metrics.ObserveCacheLookup("response", true)
			return v, true
		}
	}

	v, ok := c.local.Get(key)
	if ok {
		if b, isBytes := v.([]byte); isBytes {
			c.metrics.ObserveCacheLookup("response", true)
			return b, true
		}
	}
	c.metrics.ObserveCacheLookup("response", false)
	return nil, false
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	stored := append([]byte(nil), value...)
	c.local.Set(key, stored, ttl)
	if c.remote == nil {
		return
	}
	if ttl <= 0 {
		if err := c.remote.Delete(ctx, key); err != nil {
			c.remoteFailed("delete", key, err)
		}
		return
	}
	if err := c.remote.Set(ctx, key, stored, ttl); err != nil {
		c.remoteFailed("set", key, err)
	}
}

func (c *ResponseCache) Clear(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.remote == nil {
		return
	}
	if err := c.remote.Delete(ctx, key); err != nil {
		c.remoteFailed("delete", key, err)
	}
}

func (c *ResponseCache) ClearAll(ctx context.Context) {
	c.local.Clear()
	if c.remote == nil {
		return
	}
	if err := c.remote.Clear(ctx); err != nil {
		c.remoteFailed("clear", "", err)
	}
}

func (c *ResponseCache) remoteFailed(op, key string, err error) {
	c.metrics.ObserveRemoteCacheError(op)
	c.log.Debug("remote cache unavailable",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

// GetJSON decodes the cached payload under key into T. A payload that no
// longer decodes is treated as a miss.
func GetJSON[T any](ctx context.Context, c *ResponseCache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	return out, true
}

func SetJSON(ctx context.Context, c *ResponseCache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}
