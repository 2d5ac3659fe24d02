package tablestats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
)

type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeFetcher) FetchTableStats(ctx context.Context, table string) (*TableStats, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &TableStats{
		Table: table,
		Columns: []ColumnStat{
			{ColumnName: "id", SQLType: "int4", Type: coltype.TypeInt, IsPrimaryKey: true},
			{ColumnName: "name", SQLType: "text", Type: coltype.TypeText, IsNullable: true},
		},
	}, nil
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) NotifyReset(context.Context) error {
	n.calls.Add(1)
	return nil
}

func TestCache_ResetNotEnabled(t *testing.T) {
	c := New(&fakeFetcher{}, zaptest.NewLogger(t))

	err := c.Reset(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCacheNotEnabled)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeCacheNotEnabled, appErr.Code)
	assert.Equal(t, apperrors.KindCacheMisuse, appErr.Kind)
}

func TestCache_ResetAfterClose(t *testing.T) {
	c := New(&fakeFetcher{}, zaptest.NewLogger(t))
	c.Enable()
	c.Close()

	err := c.Reset(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCacheNotInitialized)
}

func TestCache_DisabledPassesThrough(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		stats, err := c.Get(context.Background(), "users")
		require.NoError(t, err)
		assert.Equal(t, "users", stats.Table)
	}
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCache_HitAfterFirstFetch(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, zaptest.NewLogger(t))
	c.Enable()

	first, err := c.Get(context.Background(), "users")
	require.NoError(t, err)
	second, err := c.Get(context.Background(), "users")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	c := New(f, zaptest.NewLogger(t))
	c.Enable()

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*TableStats, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "orders")
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	f := &fakeFetcher{err: apperrors.ErrNotFound}
	c := New(f, zaptest.NewLogger(t))
	c.Enable()

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCache_AbandonedFetchStillPopulates(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	c := New(f, zaptest.NewLogger(t))
	c.Enable()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "users")
		done <- err
	}()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	_, err := c.Get(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_ResetDuringFetchDiscardsStaleResult(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	c := New(f, zaptest.NewLogger(t))
	c.Enable()

	done := make(chan *TableStats, 1)
	go func() {
		stats, err := c.Get(context.Background(), "users")
		assert.NoError(t, err)
		done <- stats
	}()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, uint64(1), c.Generation())

	close(f.release)
	assert.NotNil(t, <-done, "waiters still receive the in-flight result")
	assert.Equal(t, 0, c.Len())

	_, err := c.Get(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_ResetNotifiesAndClears(t *testing.T) {
	f := &fakeFetcher{}
	n := &countingNotifier{}
	c := New(f, zaptest.NewLogger(t), WithResetNotifier(n))
	c.Enable()

	_, err := c.Get(context.Background(), "users")
	require.NoError(t, err)
	require.NoError(t, c.Reset(context.Background()))

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), n.calls.Load())

	_, err = c.Get(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCache_ResetTimer(t *testing.T) {
	c := New(&fakeFetcher{}, zaptest.NewLogger(t))
	c.Enable()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.SetResetTimer(1)
	c.StartResetTimer(ctx)
	require.Eventually(t, func() bool { return c.Generation() >= 1 }, 3*time.Second, 10*time.Millisecond)

	c.SetResetTimer(0)
	gen := c.Generation()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, gen, c.Generation(), "a zero interval stops the timer")

	c.Close()
}

func TestRedisBroadcaster_HandleIgnoresOwnMessages(t *testing.T) {
	c := New(&fakeFetcher{}, zaptest.NewLogger(t))
	c.Enable()
	b := NewRedisBroadcaster(nil, "", c, zaptest.NewLogger(t))

	b.handle(b.instanceID)
	assert.Equal(t, uint64(0), c.Generation())

	b.handle("another-instance")
	assert.Equal(t, uint64(1), c.Generation())
}

func TestTableStats_Lookups(t *testing.T) {
	stats, err := (&fakeFetcher{}).FetchTableStats(context.Background(), "users")
	require.NoError(t, err)

	col, ok := stats.Column("name")
	require.True(t, ok)
	assert.Equal(t, coltype.TypeText, col.Type)

	_, ok = stats.Column("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"id"}, stats.PrimaryKey())
	assert.Equal(t, map[string]coltype.ColumnType{"id": coltype.TypeInt, "name": coltype.TypeText}, stats.ColumnTypes())
}
