package maproom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// --- mock for cache tests ---

type countingSource struct {
	regionCalls int
	exportCalls int
	units       []domain.AdminUnit
	result      domain.ExportResult
	err         error
}

func (m *countingSource) Regions(_ context.Context, _ string, _ int, _ domain.Credentials) ([]domain.AdminUnit, error) {
	m.regionCalls++
	return m.units, m.err
}

func (m *countingSource) Export(_ context.Context, _ domain.ExportQuery) (domain.ExportResult, error) {
	m.exportCalls++
	return m.result, m.err
}

func newTestCache(inner domain.Source, clock clockwork.Clock) *CachedSource {
	return NewCachedSource(inner, 10, time.Minute, clock, testMetrics())
}

// --- CachedSource tests ---

func TestCachedSource_RegionsCacheHit(t *testing.T) {
	inner := &countingSource{units: []domain.AdminUnit{{Level: 1, Key: 12, Name: "Androy"}}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	u1, err := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	require.NoError(t, err)
	u2, err := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	require.NoError(t, err)

	assert.Equal(t, u1, u2)
	assert.Equal(t, 1, inner.regionCalls, "should only call inner once")
	assert.Equal(t, 1.0, testutil.ToFloat64(cached.metrics.UpstreamCache.WithLabelValues("regions", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cached.metrics.UpstreamCache.WithLabelValues("regions", "miss")))
}

func TestCachedSource_ExportCacheHit(t *testing.T) {
	inner := &countingSource{result: domain.ExportResult{Threshold: 30}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	_, err := cached.Export(context.Background(), testQuery())
	require.NoError(t, err)
	res, err := cached.Export(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, 30.0, res.Threshold)
	assert.Equal(t, 1, inner.exportCalls, "should only call inner once")
}

func TestCachedSource_DifferentQueriesMiss(t *testing.T) {
	inner := &countingSource{result: domain.ExportResult{Threshold: 30}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	q1 := testQuery()
	q2 := testQuery()
	q2.Freq = 15

	_, _ = cached.Export(context.Background(), q1)
	_, _ = cached.Export(context.Background(), q2)

	assert.Equal(t, 2, inner.exportCalls)
}

func TestCachedSource_CredentialsPartitionCache(t *testing.T) {
	inner := &countingSource{units: []domain.AdminUnit{{Level: 1, Key: 12}}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	_, _ = cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	_, _ = cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{Username: "analyst", Password: "x"})
	_, _ = cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{Username: "analyst", Password: "y"})
	_, _ = cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{Username: "analyst", Password: "x"})

	assert.Equal(t, 3, inner.regionCalls)
}

func TestCachedSource_ExportPasswordPartitionsCache(t *testing.T) {
	inner := &countingSource{result: domain.ExportResult{Threshold: 30}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	q := domain.ExportQuery{Maproom: testMaproom, Mode: 1, Region: []int{12}, Credentials: domain.Credentials{Username: "analyst", Password: "right"}}
	_, err := cached.Export(context.Background(), q)
	require.NoError(t, err)

	q.Credentials.Password = "wrong"
	inner.err = domain.ErrAuthentication
	_, err = cached.Export(context.Background(), q)
	require.ErrorIs(t, err, domain.ErrAuthentication)
	assert.Equal(t, 2, inner.exportCalls)
}

func TestCredentialKey(t *testing.T) {
	assert.Empty(t, credentialKey(domain.Credentials{}))

	k := credentialKey(domain.Credentials{Username: "analyst", Password: "secret"})
	assert.Len(t, k, 64)
	assert.NotContains(t, k, "secret")
	assert.NotEqual(t, k, credentialKey(domain.Credentials{Username: "analyst", Password: "other"}))
	assert.NotEqual(t, k, credentialKey(domain.Credentials{Username: "analys", Password: "tsecret"}))
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	inner := &countingSource{err: domain.ErrUpstreamUnavailable}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	_, err := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	inner.err = nil
	inner.units = []domain.AdminUnit{{Level: 1, Key: 12}}
	units, err := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	require.NoError(t, err)
	assert.Len(t, units, 1)
	assert.Equal(t, 2, inner.regionCalls)
}

func TestCachedSource_EntriesExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingSource{result: domain.ExportResult{Threshold: 30}}
	cached := newTestCache(inner, clock)

	_, _ = cached.Export(context.Background(), testQuery())
	clock.Advance(59 * time.Second)
	_, _ = cached.Export(context.Background(), testQuery())
	assert.Equal(t, 1, inner.exportCalls)

	clock.Advance(time.Second)
	_, _ = cached.Export(context.Background(), testQuery())
	assert.Equal(t, 2, inner.exportCalls, "entry should expire after the TTL")
}

func TestCachedSource_ReturnsCopies(t *testing.T) {
	inner := &countingSource{units: []domain.AdminUnit{{Level: 1, Key: 12, Name: "Androy"}}}
	cached := newTestCache(inner, clockwork.NewFakeClock())

	u1, _ := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	u1[0].Name = "mutated"

	u2, _ := cached.Regions(context.Background(), testMaproom, 1, domain.Credentials{})
	assert.Equal(t, "Androy", u2[0].Name)
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache[string](3, 0, clockwork.NewFakeClock())

	c.put("a", "A")
	c.put("b", "B")

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache[string](2, 0, clockwork.NewFakeClock())

	c.put("a", "A")
	c.put("b", "B")
	c.put("c", "C") // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", result)

	result, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result)
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache[string](2, 0, clockwork.NewFakeClock())

	c.put("a", "A")
	c.put("b", "B")

	// Access "a" to promote it
	c.get("a")

	// Insert "c": should evict "b" (LRU), not "a"
	c.put("c", "C")

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExistingRefreshesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newLRUCache[string](2, time.Minute, clock)

	c.put("a", "A1")
	clock.Advance(50 * time.Second)
	c.put("a", "A2")
	clock.Advance(50 * time.Second)

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result)
}

func TestLRUCache_ExpiredEntryIsRemoved(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newLRUCache[string](2, time.Minute, clock)

	c.put("a", "A")
	clock.Advance(2 * time.Minute)

	_, ok := c.get("a")
	assert.False(t, ok)
	assert.Empty(t, c.entries)
	assert.Nil(t, c.head)
	assert.Nil(t, c.tail)
}

var _ domain.Source = (*CachedSource)(nil)
var _ domain.Source = (*Client)(nil)

func TestCountingSourceImplementsSource(t *testing.T) {
	var s domain.Source = &countingSource{err: errors.New("x")}
	_, err := s.Export(context.Background(), testQuery())
	assert.Error(t, err)
}
