package cache

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/metrics"
	"github.com/ougirez/cmregistry/internal/pkg/utils"
)

const (
	highWater     = 0.75
	lowWater      = 0.70
	criticalWater = 0.80

	evictBatch   = 5
	deleteChunk  = 500
	maxPlainKey  = 200
	hashedKeyLen = 40

	defaultTimeout = 2 * time.Second
)

var plainKey = regexp.MustCompile(`^[A-Za-z0-9_\-.:]+$`)

type Options struct {
	Mode            Mode
	DisableMapCache bool
	// MaxMemoryBytes is used when Redis reports no maxmemory.
	MaxMemoryBytes int64
	Timeout        time.Duration
	Now            func() time.Time
}

// Governor fronts Redis with namespace TTL policy, operating modes, a memory
// usage governor and an in-process fallback. Redis failures never reach callers:
// reads degrade to misses and writes are dropped.
type Governor struct {
	backend  Backend
	opts     Options
	breaker  *gobreaker.CircuitBreaker[any]
	fallback *memoryStore
	group    singleflight.Group

	mu        sync.RWMutex
	clearedAt map[Namespace]time.Time

	hits, misses, errs, sets, skipped, evictions atomic.Int64
}

func NewGovernor(backend Backend, opts Options) *Governor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Governor{
		backend:   backend,
		opts:      opts,
		fallback:  newMemoryStore(opts.Now),
		clearedAt: make(map[Namespace]time.Time),
	}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf(context.Background(), "circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return g
}

func (g *Governor) Mode() Mode { return g.opts.Mode }

// Key returns the Redis key for (ns, key). Keys with characters outside a safe
// set, or longer than 200 bytes, are replaced by a hash.
func Key(ns Namespace, key string) string {
	if len(key) > maxPlainKey || !plainKey.MatchString(key) {
		key = utils.ShortHash(key, hashedKeyLen)
	}
	return string(ns) + ":" + key
}

func (g *Governor) do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		return nil, fn(ctx)
	})
	return err
}

func (g *Governor) miss(ctx context.Context, ns Namespace) {
	g.misses.Add(1)
	egress.RecordCacheMiss(ctx)
	metrics.IncCacheOp(string(ns), "miss")
}

func (g *Governor) hit(ctx context.Context, ns Namespace) {
	g.hits.Add(1)
	egress.RecordCacheHit(ctx)
	metrics.IncCacheOp(string(ns), "hit")
}

func (g *Governor) failed(ctx context.Context, ns Namespace, op string, err error) {
	g.errs.Add(1)
	if op != "decode" {
		egress.RecordUpstreamError(ctx)
	}
	metrics.IncCacheOp(string(ns), "error")
	logger.Warnf(ctx, "cache %s %s: %v", op, ns, err)
}

func (g *Governor) cleared(ns Namespace) time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clearedAt[ns]
}

// Get looks the key up in the memory fallback (for namespaces that have one),
// then Redis. Any failure is a miss.
func (g *Governor) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	policy, err := PolicyFor(ns)
	if err != nil {
		g.failed(ctx, ns, "get", err)
		return nil, false
	}

	if policy.Fallback {
		if value, ok := g.fallback.get(ns, key); ok {
			g.hit(ctx, ns)
			return value, true
		}
	}

	if !redisReadable(g.opts.Mode, ns, g.opts.DisableMapCache) {
		g.miss(ctx, ns)
		return nil, false
	}

	var raw []byte
	err = g.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = g.backend.Get(ctx, Key(ns, key))
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			g.failed(ctx, ns, "get", err)
		}
		g.miss(ctx, ns)
		return nil, false
	}

	value, storedAt, err := decode(raw)
	if err != nil {
		g.failed(ctx, ns, "decode", err)
		g.miss(ctx, ns)
		return nil, false
	}
	if storedAt.Before(g.cleared(ns)) {
		g.miss(ctx, ns)
		return nil, false
	}

	if policy.Fallback {
		g.fallback.put(ns, key, value)
	}
	g.hit(ctx, ns)
	return value, true
}

// Set stores value under (ns, key). A zero ttl means the namespace default.
// Writes the current mode does not allow are skipped silently.
func (g *Governor) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) {
	policy, err := PolicyFor(ns)
	if err != nil {
		g.failed(ctx, ns, "set", err)
		return
	}
	if ttl <= 0 {
		ttl = policy.TTL
	}

	if policy.Fallback {
		g.fallback.put(ns, key, value)
	}

	if !redisWritable(g.opts.Mode, ns, g.opts.DisableMapCache) {
		g.skipped.Add(1)
		metrics.IncCacheOp(string(ns), "skip")
		return
	}

	if usage, err := g.usage(ctx); err == nil && usage > highWater {
		if policy.PressureTTL > 0 && ttl > policy.PressureTTL {
			ttl = policy.PressureTTL
		}
		g.relieve(ctx, usage)
	}

	payload := encode(value, g.opts.Now())
	err = g.do(ctx, func(ctx context.Context) error {
		return g.backend.Set(ctx, Key(ns, key), payload, ttl)
	})
	if err != nil {
		g.failed(ctx, ns, "set", err)
		return
	}
	g.sets.Add(1)
	metrics.IncCacheOp(string(ns), "set")
}

// GetOrBuild returns the cached value or builds, stores and returns it.
// Concurrent callers for the same key share one build.
func (g *Governor) GetOrBuild(
	ctx context.Context,
	ns Namespace,
	key string,
	ttl time.Duration,
	build func(ctx context.Context) ([]byte, error),
) ([]byte, error) {
	if value, ok := g.Get(ctx, ns, key); ok {
		return value, nil
	}

	v, err, _ := g.group.Do(Key(ns, key), func() (any, error) {
		value, err := build(ctx)
		if err != nil {
			return nil, err
		}
		g.Set(ctx, ns, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Fetch is GetOrBuild for JSON-serialisable values.
func Fetch[T any](
	ctx context.Context,
	g *Governor,
	ns Namespace,
	key string,
	ttl time.Duration,
	build func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	raw, err := g.GetOrBuild(ctx, ns, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return sonic.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err = sonic.Unmarshal(raw, &out); err != nil {
		logger.Warnf(ctx, "cache %s: dropping undecodable value for %q: %v", ns, key, err)
		g.Invalidate(ctx, ns, key)
		return build(ctx)
	}
	return out, nil
}

// Invalidate removes one key, or every key matching a glob pattern.
// Patterns match the stored key form, so hashed keys are only reachable by exact key.
func (g *Governor) Invalidate(ctx context.Context, ns Namespace, keyOrPattern string) int {
	if !strings.ContainsAny(keyOrPattern, "*?[") {
		g.fallback.delete(ns, keyOrPattern)
		var n int64
		err := g.do(ctx, func(ctx context.Context) error {
			var err error
			n, err = g.backend.Del(ctx, Key(ns, keyOrPattern))
			return err
		})
		if err != nil {
			g.failed(ctx, ns, "invalidate", err)
		}
		return int(n)
	}

	n, err := g.deleteMatching(ctx, string(ns)+":"+keyOrPattern)
	if err != nil {
		g.failed(ctx, ns, "invalidate", err)
	}
	return n
}

// ClearNamespace drops every key in ns from Redis and the memory fallback.
// Until the next Set, Get in ns misses even for keys Redis failed to delete.
func (g *Governor) ClearNamespace(ctx context.Context, ns Namespace) (int, error) {
	if _, err := PolicyFor(ns); err != nil {
		return 0, err
	}

	g.mu.Lock()
	g.clearedAt[ns] = g.opts.Now()
	g.mu.Unlock()

	n := g.fallback.clear(ns)
	deleted, err := g.deleteMatching(ctx, string(ns)+":*")
	logger.Infof(ctx, "cache namespace %s cleared: %d redis keys, %d memory entries", ns, deleted, n)
	return deleted + n, err
}

func (g *Governor) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var keys []string
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		keys, err = g.backend.Keys(ctx, pattern)
		return err
	})
	if err != nil {
		return 0, err
	}
	return g.deleteKeys(ctx, keys)
}

func (g *Governor) deleteKeys(ctx context.Context, keys []string) (int, error) {
	var total int
	for start := 0; start < len(keys); start += deleteChunk {
		end := min(start+deleteChunk, len(keys))
		var n int64
		err := g.do(ctx, func(ctx context.Context) error {
			var err error
			n, err = g.backend.Del(ctx, keys[start:end]...)
			return err
		})
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// usage samples used_memory / max_memory.
func (g *Governor) usage(ctx context.Context) (float64, error) {
	var used, max int64
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		used, max, err = g.backend.MemoryUsage(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if max <= 0 {
		max = g.opts.MaxMemoryBytes
	}
	if max <= 0 {
		return 0, nil
	}
	ratio := float64(used) / float64(max)
	metrics.SetCacheUsage(ratio)
	return ratio, nil
}

// relieve runs when usage is above the high-water mark. It caps long TTLs,
// evicts least recently used map_data keys until usage drops below the
// low-water mark and, if usage is still critical, drops map_data and search
// entirely. session and csrf are never touched.
func (g *Governor) relieve(ctx context.Context, usage float64) float64 {
	if usage <= highWater {
		return usage
	}
	logger.Warnf(ctx, "redis memory at %.1f%%, relieving pressure", usage*100)

	g.capTTLs(ctx)
	usage = g.evictOldest(ctx, NamespaceMapData, usage)

	if usage > criticalWater {
		for _, ns := range []Namespace{NamespaceMapData, NamespaceSearch} {
			n, err := g.deleteMatching(ctx, string(ns)+":*")
			if err != nil {
				g.failed(ctx, ns, "evict", err)
			}
			g.recordEvictions(ns, n)
		}
		if u, err := g.usage(ctx); err == nil {
			usage = u
		}
	}
	return usage
}

func (g *Governor) recordEvictions(ns Namespace, n int) {
	if n <= 0 {
		return
	}
	g.evictions.Add(int64(n))
	metrics.AddCacheEvictions(string(ns), n)
}

func (g *Governor) capTTLs(ctx context.Context) {
	for _, ns := range Namespaces {
		policy := policies[ns]
		if policy.Protected || policy.PressureTTL <= 0 {
			continue
		}
		var keys []string
		err := g.do(ctx, func(ctx context.Context) error {
			var err error
			keys, err = g.backend.Keys(ctx, string(ns)+":*")
			return err
		})
		if err != nil {
			g.failed(ctx, ns, "scan", err)
			return
		}
		for _, key := range keys {
			err := g.do(ctx, func(ctx context.Context) error {
				ttl, err := g.backend.TTL(ctx, key)
				if err != nil {
					return err
				}
				if ttl == -1 || ttl > policy.PressureTTL {
					return g.backend.Expire(ctx, key, policy.PressureTTL)
				}
				return nil
			})
			if err != nil {
				g.failed(ctx, ns, "expire", err)
				return
			}
		}
	}
}

func (g *Governor) evictOldest(ctx context.Context, ns Namespace, usage float64) float64 {
	var keys []string
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		keys, err = g.backend.Keys(ctx, string(ns)+":*")
		return err
	})
	if err != nil {
		g.failed(ctx, ns, "scan", err)
		return usage
	}

	idle := make(map[string]time.Duration, len(keys))
	for _, key := range keys {
		_ = g.do(ctx, func(ctx context.Context) error {
			d, err := g.backend.IdleTime(ctx, key)
			idle[key] = d
			return err
		})
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return idle[keys[i]] > idle[keys[j]]
	})

	for start := 0; start < len(keys) && usage >= lowWater; start += evictBatch {
		end := min(start+evictBatch, len(keys))
		n, err := g.deleteKeys(ctx, keys[start:end])
		g.recordEvictions(ns, n)
		if err != nil {
			g.failed(ctx, ns, "evict", err)
			return usage
		}
		u, err := g.usage(ctx)
		if err != nil {
			return usage
		}
		usage = u
	}
	return usage
}

// Report is the cache status shown by the CLI and the monitoring endpoint.
type Report struct {
	Mode            string          `json:"mode"`
	MapCacheEnabled bool            `json:"map_cache_enabled"`
	Breaker         string          `json:"breaker"`
	UsedBytes       int64           `json:"used_bytes"`
	MaxBytes        int64           `json:"max_bytes"`
	UsagePercent    float64         `json:"usage_percent"`
	Healthy         bool            `json:"healthy"`
	Keys            map[string]int  `json:"keys,omitempty"`
	Hits            int64           `json:"hits"`
	Misses          int64           `json:"misses"`
	HitRate         float64         `json:"hit_rate"`
	Errors          int64           `json:"errors"`
	Sets            int64           `json:"sets"`
	Skipped         int64           `json:"skipped"`
	Evictions       int64           `json:"evictions"`
	Fallback        []FallbackEntry `json:"fallback,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func (g *Governor) Status(ctx context.Context) Report {
	r := Report{
		Mode:            g.opts.Mode.String(),
		MapCacheEnabled: redisWritable(g.opts.Mode, NamespaceMapData, g.opts.DisableMapCache),
		Breaker:         g.breaker.State().String(),
		Hits:            g.hits.Load(),
		Misses:          g.misses.Load(),
		Errors:          g.errs.Load(),
		Sets:            g.sets.Load(),
		Skipped:         g.skipped.Load(),
		Evictions:       g.evictions.Load(),
		Fallback:        g.fallback.snapshot(),
	}
	if total := r.Hits + r.Misses; total > 0 {
		r.HitRate = math.Round(float64(r.Hits)/float64(total)*10000) / 10000
	}

	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		r.UsedBytes, r.MaxBytes, err = g.backend.MemoryUsage(ctx)
		return err
	})
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if r.MaxBytes <= 0 {
		r.MaxBytes = g.opts.MaxMemoryBytes
	}
	if r.MaxBytes > 0 {
		r.UsagePercent = math.Round(float64(r.UsedBytes)/float64(r.MaxBytes)*10000) / 100
	}
	r.Healthy = r.UsagePercent < highWater*100

	r.Keys = make(map[string]int, len(Namespaces))
	for _, ns := range Namespaces {
		var keys []string
		err := g.do(ctx, func(ctx context.Context) error {
			var err error
			keys, err = g.backend.Keys(ctx, string(ns)+":*")
			return err
		})
		if err != nil {
			r.Error = err.Error()
			break
		}
		r.Keys[string(ns)] = len(keys)
	}
	return r
}

// Manage runs one governor cycle without a pending write. Used by the
// periodic housekeeping loop and the cache CLI.
func (g *Governor) Manage(ctx context.Context) (float64, error) {
	usage, err := g.usage(ctx)
	if err != nil {
		return 0, err
	}
	return g.relieve(ctx, usage), nil
}
