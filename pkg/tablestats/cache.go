package tablestats

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
)

const defaultFetchTimeout = 30 * time.Second

type entry struct {
	stats      *TableStats
	generation uint64
	fetchedAt  time.Time
}

// Cache serves TableStats, fetching each table's metadata once and keeping it
// until the next reset. A disabled cache passes every Get through to the
// fetcher.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu         sync.RWMutex
	enabled    bool
	entries    map[string]entry
	generation uint64

	// resetMu serializes resets; reads only wait for the map swap.
	resetMu sync.Mutex
	flights singleflight.Group

	fetchTimeout time.Duration
	notifier     ResetNotifier

	timerMu       sync.Mutex
	resetInterval time.Duration
	timerParent   context.Context
	stopTimer     context.CancelFunc
	timerDone     chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetchTimeout bounds each metadata fetch. The fetch runs detached from
// the requesting caller, so this is its only deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.fetchTimeout = d
	}
}

// WithResetNotifier registers a hook invoked after every Reset.
func WithResetNotifier(n ResetNotifier) Option {
	return func(c *Cache) {
		c.notifier = n
	}
}

// New creates a disabled cache backed by fetcher.
func New(fetcher Fetcher, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		fetcher:      fetcher,
		logger:       logger.Named("table-stats"),
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetResetNotifier registers the reset hook after construction.
func (c *Cache) SetResetNotifier(n ResetNotifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// Enable turns caching on and establishes an empty store. Calling it again
// keeps the existing entries.
func (c *Cache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = true
	if c.entries == nil {
		c.entries = make(map[string]entry)
	}
}

// Enabled reports whether caching is on.
func (c *Cache) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Generation returns the number of resets since the cache was created.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns the stats for table. Concurrent misses for the same table share
// one fetch. If ctx ends first, Get returns ctx.Err() and the fetch still
// completes and populates the cache.
func (c *Cache) Get(ctx context.Context, table string) (*TableStats, error) {
	c.mu.RLock()
	enabled := c.enabled
	gen := c.generation
	e, hit := c.entries[table]
	c.mu.RUnlock()

	if !enabled {
		return c.fetcher.FetchTableStats(ctx, table)
	}
	if hit {
		return e.stats, nil
	}

	key := strconv.FormatUint(gen, 10) + "/" + table
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), table, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TableStats), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, table string, gen uint64) (*TableStats, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	stats, err := c.fetcher.FetchTableStats(ctx, table)
	if err != nil {
		c.logger.Debug("Table stats fetch failed",
			zap.String("table", table),
			zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	stored := false
	// A reset that happened during the fetch makes the result stale for the
	// new generation; the waiters of this flight still get it.
	if c.entries != nil && c.generation == gen {
		c.entries[table] = entry{stats: stats, generation: gen, fetchedAt: time.Now()}
		stored = true
	}
	c.mu.Unlock()

	c.logger.Debug("Fetched table stats",
		zap.String("table", table),
		zap.Int("columns", len(stats.Columns)),
		zap.Uint64("generation", gen),
		zap.Bool("stored", stored),
		zap.Duration("elapsed", time.Since(start)))

	return stats, nil
}

// Reset drops every cached entry and tells the reset notifier, if any.
func (c *Cache) Reset(ctx context.Context) error {
	if err := c.resetLocal("request"); err != nil {
		return err
	}

	c.mu.RLock()
	n := c.notifier
	c.mu.RUnlock()
	if n != nil {
		if err := n.NotifyReset(ctx); err != nil {
			c.logger.Warn("Failed to broadcast table stats reset", zap.Error(err))
		}
	}
	return nil
}

func (c *Cache) resetLocal(source string) error {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return apperrors.CacheNotEnabled()
	}
	if c.entries == nil {
		c.mu.Unlock()
		return apperrors.CacheNotInitialized()
	}
	dropped := len(c.entries)
	c.generation++
	gen := c.generation
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	c.logger.Info("Table stats cache reset",
		zap.String("source", source),
		zap.Int("dropped", dropped),
		zap.Uint64("generation", gen))
	return nil
}

// SetResetTimer sets the automatic reset interval. Zero disables it. A timer
// already started with StartResetTimer picks up the new interval.
func (c *Cache) SetResetTimer(seconds uint32) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.resetInterval = time.Duration(seconds) * time.Second
	if c.timerParent != nil {
		c.restartTimerLocked()
	}
}

// StartResetTimer runs the automatic reset until ctx ends or Close is called.
func (c *Cache) StartResetTimer(ctx context.Context) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.timerParent = ctx
	c.restartTimerLocked()
}

func (c *Cache) restartTimerLocked() {
	c.stopTimerLocked()
	if c.resetInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(c.timerParent)
	done := make(chan struct{})
	c.stopTimer = cancel
	c.timerDone = done

	go c.runResetTimer(ctx, c.resetInterval, done)
}

func (c *Cache) stopTimerLocked() {
	if c.stopTimer == nil {
		return
	}
	c.stopTimer()
	<-c.timerDone
	c.stopTimer = nil
	c.timerDone = nil
}

func (c *Cache) runResetTimer(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Table stats reset timer started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.resetLocal("timer"); err != nil {
				c.logger.Warn("Timed table stats reset failed", zap.Error(err))
			}
		}
	}
}

// Close stops the reset timer and releases the store. Resets after Close
// fail with CacheNotInitialized.
func (c *Cache) Close() {
	c.timerMu.Lock()
	c.stopTimerLocked()
	c.timerParent = nil
	c.timerMu.Unlock()

	c.resetMu.Lock()
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	c.resetMu.Unlock()
}
