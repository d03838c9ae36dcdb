package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrWaitTimeout is returned internally when a waiter outlives the bounded
// wait; callers of GetOrCompute never see it because the waiter falls back
// to computing independently.
var ErrWaitTimeout = errors.New("timed out waiting for in-flight compute")

// ComputeFunc produces the value for a missing key. The boolean reports
// whether the result may be stored; transient or unsettled results return
// false so failures are never cached.
type ComputeFunc func(ctx context.Context) (any, bool, error)

// Config contains response cache configuration.
type Config struct {
	// TTL is how long entries stay valid.
	// Default: 5 minutes
	TTL time.Duration

	// WaitTimeout bounds how long a request waits for another request's
	// in-flight compute before computing independently.
	// Default: 30 seconds
	WaitTimeout time.Duration

	// MaxEntries caps the cache size; the oldest entry is evicted when the
	// cap is hit. 0 means unlimited.
	MaxEntries int

	// SweepInterval is how often expired entries are swept.
	// Default: TTL/2, floored at 10 seconds
	SweepInterval time.Duration
}

type entry struct {
	value     any
	expiresAt time.Time
	createdAt time.Time
}

// pending tracks one in-flight compute. readyCh closes when the compute
// finishes; ok reports whether value was stored.
type pending struct {
	readyCh chan struct{}
	value   any
	ok      bool
}

// Cache is the content-addressed response cache.
type Cache struct {
	ttl         time.Duration
	waitTimeout time.Duration
	maxEntries  int

	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]*pending

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// New creates a response cache and starts its sweep goroutine.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL / 2
		if cfg.SweepInterval < 10*time.Second {
			cfg.SweepInterval = 10 * time.Second
		}
	}

	c := &Cache{
		ttl:         cfg.TTL,
		waitTimeout: cfg.WaitTimeout,
		maxEntries:  cfg.MaxEntries,
		entries:     make(map[string]*entry),
		inflight:    make(map[string]*pending),
		stopCh:      make(chan struct{}),
		logger:      slog.Default().With("component", "cache"),
	}
	go c.sweep(cfg.SweepInterval)
	return c
}

// Get returns the fresh value for key, if any.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, time.Now())
}

func (c *Cache) getLocked(key string, now time.Time) (any, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// GetOrCompute returns the cached value for key, or runs compute to produce
// it. At most one compute per key runs at a time: later callers wait for
// the first, bounded by WaitTimeout. When the first compute fails or the
// wait times out, the waiter runs its own compute instead of failing.
//
// The second return value reports whether the result came from the cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (any, bool, error) {
	for {
		c.mu.Lock()
		if value, ok := c.getLocked(key, time.Now()); ok {
			c.mu.Unlock()
			return value, true, nil
		}

		if p, ok := c.inflight[key]; ok {
			c.mu.Unlock()

			if err := c.wait(ctx, p); err != nil {
				if errors.Is(err, ErrWaitTimeout) {
					// The leader is slow; compute independently rather than
					// stacking more latency on this request.
					c.logger.Debug("wait for in-flight compute timed out", "key", key)
					return c.computeIndependently(ctx, key, compute)
				}
				return nil, false, err
			}
			if p.ok {
				return p.value, true, nil
			}
			// Leader failed; retry the loop, most likely becoming the new
			// leader.
			continue
		}

		p := &pending{readyCh: make(chan struct{})}
		c.inflight[key] = p
		c.mu.Unlock()

		return c.computeAsLeader(ctx, key, p, compute)
	}
}

// wait blocks until the pending compute finishes, the bounded wait elapses,
// or ctx is done.
func (c *Cache) wait(ctx context.Context, p *pending) error {
	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case <-p.readyCh:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) computeAsLeader(ctx context.Context, key string, p *pending, compute ComputeFunc) (any, bool, error) {
	value, storable, err := compute(ctx)

	c.mu.Lock()
	if err == nil && storable {
		c.storeLocked(key, value)
		p.value = value
		p.ok = true
	}
	delete(c.inflight, key)
	c.mu.Unlock()
	close(p.readyCh)

	if err != nil {
		return nil, false, err
	}
	return value, false, nil
}

// computeIndependently runs a compute that does not coordinate with other
// callers. Used by waiters falling back after a timeout.
func (c *Cache) computeIndependently(ctx context.Context, key string, compute ComputeFunc) (any, bool, error) {
	value, storable, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if storable {
		c.mu.Lock()
		c.storeLocked(key, value)
		c.mu.Unlock()
	}
	return value, false, nil
}

// Put stores a value directly. Used for results produced outside
// GetOrCompute.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value)
}

func (c *Cache) storeLocked(key string, value any) {
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}
	now := time.Now()
	c.entries[key] = &entry{
		value:     value,
		expiresAt: now.Add(c.ttl),
		createdAt: now,
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			removed := 0
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("swept expired cache entries", "removed", removed)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the sweep goroutine.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}
