package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func newGovernor(b Backend, c *clock, opts Options) *Governor {
	opts.Now = c.Now
	return NewGovernor(b, opts)
}

func countKeys(t *testing.T, b Backend, ns Namespace) int {
	t.Helper()
	keys, err := b.Keys(context.Background(), string(ns)+":*")
	require.NoError(t, err)
	return len(keys)
}

func usageOf(t *testing.T, b Backend) float64 {
	t.Helper()
	used, max, err := b.MemoryUsage(context.Background())
	require.NoError(t, err)
	return float64(used) / float64(max)
}

func TestGovernorRoundTrip(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	_, ok := g.Get(ctx, NamespaceSearch, "q=solar")
	assert.False(t, ok)

	g.Set(ctx, NamespaceSearch, "q=solar", []byte(`{"total":3}`), 0)
	value, ok := g.Get(ctx, NamespaceSearch, "q=solar")
	require.True(t, ok)
	assert.Equal(t, `{"total":3}`, string(value))

	ttl, err := b.TTL(ctx, Key(NamespaceSearch, "q=solar"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)

	report := g.Status(ctx)
	assert.Equal(t, int64(1), report.Hits)
	assert.Equal(t, int64(1), report.Misses)
	assert.Equal(t, 0.5, report.HitRate)
	assert.Equal(t, 1, report.Keys[string(NamespaceSearch)])
}

func TestKeyHashesUnsafeKeys(t *testing.T) {
	assert.Equal(t, "search:page-1", Key(NamespaceSearch, "page-1"))

	hashed := Key(NamespaceSearch, "q=solar farm&page=2")
	assert.True(t, strings.HasPrefix(hashed, "search:"))
	assert.Len(t, strings.TrimPrefix(hashed, "search:"), 40)
	assert.Equal(t, hashed, Key(NamespaceSearch, "q=solar farm&page=2"))

	assert.Len(t, Key(NamespaceMapData, strings.Repeat("a", 300)), len("map_data:")+40)
}

func TestGovernorCompressesLargeValues(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	value := bytes.Repeat([]byte(`{"location":"Drax Power Station","technology":"Biomass"},`), 200)
	g.Set(ctx, NamespaceMapData, "all", value, 0)

	raw, err := b.Get(ctx, Key(NamespaceMapData, "all"))
	require.NoError(t, err)
	assert.True(t, isCompressed(raw))
	assert.Less(t, len(raw), len(value))

	got, ok := g.Get(ctx, NamespaceMapData, "all")
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestGovernorRelievesMemoryPressure(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(10000, c.Now)
	ctx := context.Background()

	// 82 entries of 100 bytes each: 82% usage.
	for i := 0; i < 82; i++ {
		key := fmt.Sprintf("map_data:old-%03d", i)
		require.NoError(t, b.Set(ctx, key, bytes.Repeat([]byte("x"), 100-len(key)), 24*time.Hour))
		c.Advance(time.Second)
	}
	require.InDelta(t, 0.82, usageOf(t, b), 1e-9)
	before := countKeys(t, b, NamespaceMapData)

	g := newGovernor(b, c, Options{})
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("new-%d", i)
		g.Set(ctx, NamespaceMapData, key, bytes.Repeat([]byte("y"), 100-len("map_data:"+key)-envelopeHeaderSz), 0)
		c.Advance(time.Second)
	}

	assert.Less(t, countKeys(t, b, NamespaceMapData), before)
	assert.Less(t, usageOf(t, b), criticalWater)

	// least recently used go first
	_, err := b.Get(ctx, "map_data:old-000")
	assert.ErrorIs(t, err, ErrMiss)
	for i := 0; i < 10; i++ {
		_, ok := g.Get(ctx, NamespaceMapData, fmt.Sprintf("new-%d", i))
		assert.True(t, ok, "new-%d", i)
	}

	ttl, err := b.TTL(ctx, Key(NamespaceMapData, "new-0"))
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Hour)

	ttl, err = b.TTL(ctx, "map_data:old-081")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Hour)

	assert.Positive(t, g.Status(ctx).Evictions)
}

func TestGovernorNeverEvictsSessions(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(10000, c.Now)
	ctx := context.Background()

	for i := 0; i < 85; i++ {
		key := fmt.Sprintf("session:s-%03d", i)
		require.NoError(t, b.Set(ctx, key, bytes.Repeat([]byte("s"), 100-len(key)), 24*time.Hour))
	}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("search:q-%d", i)
		require.NoError(t, b.Set(ctx, key, bytes.Repeat([]byte("q"), 100-len(key)), time.Hour))
	}

	g := newGovernor(b, c, Options{})
	g.Set(ctx, NamespaceMapData, "k", []byte("v"), 0)

	assert.Equal(t, 85, countKeys(t, b, NamespaceSession))
	assert.Equal(t, 0, countKeys(t, b, NamespaceSearch))

	ttl, err := b.TTL(ctx, "session:s-000")
	require.NoError(t, err)
	assert.Greater(t, ttl, 12*time.Hour)
}

func TestGovernorModes(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)

	seed := newGovernor(b, c, Options{})
	seed.Set(ctx, NamespaceMapData, "all", []byte("map"), 0)
	seed.Set(ctx, NamespaceStatistics, "technologies", []byte("stats"), 0)

	t.Run("emergency", func(t *testing.T) {
		g := newGovernor(b, c, Options{Mode: ModeEmergency})

		_, ok := g.Get(ctx, NamespaceMapData, "all")
		assert.False(t, ok)
		_, ok = g.Get(ctx, NamespaceStatistics, "technologies")
		assert.True(t, ok)

		g.Set(ctx, NamespaceStatistics, "other", []byte("x"), 0)
		_, err := b.Get(ctx, Key(NamespaceStatistics, "other"))
		assert.ErrorIs(t, err, ErrMiss)

		g.Set(ctx, NamespaceSession, "abc", []byte("x"), 0)
		_, err = b.Get(ctx, Key(NamespaceSession, "abc"))
		assert.NoError(t, err)

		assert.False(t, g.Status(ctx).MapCacheEnabled)
	})

	t.Run("minimal", func(t *testing.T) {
		g := newGovernor(b, c, Options{Mode: ModeMinimal})

		_, ok := g.Get(ctx, NamespaceStatistics, "technologies")
		assert.False(t, ok)

		g.Set(ctx, NamespaceCSRF, "token", []byte("x"), 0)
		value, ok := g.Get(ctx, NamespaceCSRF, "token")
		assert.True(t, ok)
		assert.Equal(t, "x", string(value))
	})

	t.Run("map cache disabled", func(t *testing.T) {
		g := newGovernor(b, c, Options{DisableMapCache: true})

		_, ok := g.Get(ctx, NamespaceMapData, "all")
		assert.False(t, ok)
		g.Set(ctx, NamespaceMapData, "fresh", []byte("x"), 0)
		_, err := b.Get(ctx, Key(NamespaceMapData, "fresh"))
		assert.ErrorIs(t, err, ErrMiss)

		_, ok = g.Get(ctx, NamespaceStatistics, "technologies")
		assert.True(t, ok)
	})
}

func TestGovernorSwallowsBackendFailures(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	b.SetDown(true)
	g.Set(ctx, NamespaceSearch, "k", []byte("v"), 0)
	_, ok := g.Get(ctx, NamespaceSearch, "k")
	assert.False(t, ok)

	builds := 0
	value, err := g.GetOrBuild(ctx, NamespaceSearch, "k", 0, func(context.Context) ([]byte, error) {
		builds++
		return []byte("built"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "built", string(value))
	assert.Equal(t, 1, builds)

	report := g.Status(ctx)
	assert.NotEmpty(t, report.Error)
	assert.Positive(t, report.Errors)
}

func TestGovernorMemoryFallback(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()
	b.SetDown(true)

	builds := 0
	build := func(context.Context) ([]byte, error) {
		builds++
		return []byte(`{"gridbeyondlimited":"GridBeyond Limited"}`), nil
	}

	for i := 0; i < 3; i++ {
		_, err := g.GetOrBuild(ctx, NamespaceCompanyIndex, "index", 0, build)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, builds)

	c.Advance(61 * time.Minute)
	_, err := g.GetOrBuild(ctx, NamespaceCompanyIndex, "index", 0, build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	entries := g.Status(ctx).Fallback
	require.Len(t, entries, 1)
	assert.Equal(t, NamespaceCompanyIndex, entries[0].Namespace)
	assert.True(t, entries[0].Fresh)
}

func TestGovernorMinimalModeStillServesFallback(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{Mode: ModeMinimal})
	ctx := context.Background()

	g.Set(ctx, NamespaceLocationMapping, "SW1A", []byte("Greater London"), 0)
	value, ok := g.Get(ctx, NamespaceLocationMapping, "SW1A")
	require.True(t, ok)
	assert.Equal(t, "Greater London", string(value))
	assert.Equal(t, 0, countKeys(t, b, NamespaceLocationMapping))
}

func TestClearNamespaceGuaranteesMisses(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	g.Set(ctx, NamespaceStatistics, "a", []byte("1"), 0)
	g.Set(ctx, NamespaceStatistics, "b", []byte("2"), 0)
	g.Set(ctx, NamespaceSearch, "a", []byte("3"), 0)
	c.Advance(time.Second)

	n, err := g.ClearNamespace(ctx, NamespaceStatistics)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, key := range []string{"a", "b"} {
		_, ok := g.Get(ctx, NamespaceStatistics, key)
		assert.False(t, ok)
	}
	_, ok := g.Get(ctx, NamespaceSearch, "a")
	assert.True(t, ok)

	g.Set(ctx, NamespaceStatistics, "a", []byte("4"), 0)
	value, ok := g.Get(ctx, NamespaceStatistics, "a")
	require.True(t, ok)
	assert.Equal(t, "4", string(value))
}

func TestClearNamespaceWhenDeleteFails(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	g.Set(ctx, NamespaceStatistics, "a", []byte("1"), 0)
	c.Advance(time.Second)

	b.SetDown(true)
	_, err := g.ClearNamespace(ctx, NamespaceStatistics)
	require.Error(t, err)
	b.SetDown(false)

	_, ok := g.Get(ctx, NamespaceStatistics, "a")
	assert.False(t, ok)

	_, err = g.ClearNamespace(ctx, Namespace("nope"))
	assert.Error(t, err)
}

func TestInvalidatePattern(t *testing.T) {
	c := newClock()
	b := NewMemoryBackend(1<<20, c.Now)
	g := newGovernor(b, c, Options{})
	ctx := context.Background()

	g.Set(ctx, NamespaceMapData, "tech-solar", []byte("1"), 0)
	g.Set(ctx, NamespaceMapData, "tech-wind", []byte("1"), 0)
	g.Set(ctx, NamespaceMapData, "company-drax", []byte("1"), 0)

	assert.Equal(t, 2, g.Invalidate(ctx, NamespaceMapData, "tech-*"))
	assert.Equal(t, 1, g.Invalidate(ctx, NamespaceMapData, "company-drax"))
	assert.Equal(t, 0, countKeys(t, b, NamespaceMapData))
}

type techStats struct {
	Technology string `json:"technology"`
	Count      int    `json:"count"`
}

func TestFetch(t *testing.T) {
	c := newClock()
	g := newGovernor(NewMemoryBackend(1<<20, c.Now), c, Options{})
	ctx := context.Background()

	builds := 0
	build := func(context.Context) ([]techStats, error) {
		builds++
		return []techStats{{Technology: "Battery", Count: 12}}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := Fetch(ctx, g, NamespaceStatistics, "technologies", 0, build)
		require.NoError(t, err)
		assert.Equal(t, []techStats{{Technology: "Battery", Count: 12}}, got)
	}
	assert.Equal(t, 1, builds)

	boom := errors.New("db down")
	_, err := Fetch(ctx, g, NamespaceStatistics, "other", 0, func(context.Context) ([]techStats, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestParseMemoryInfo(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:52428800\r\n"
	used, max, err := parseMemoryInfo(info)
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), used)
	assert.Equal(t, int64(52428800), max)

	_, _, err = parseMemoryInfo("# Memory\r\n")
	assert.Error(t, err)
}
