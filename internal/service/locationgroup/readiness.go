package locationgroup

import (
	"context"
	"sync"
	"time"

	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

const (
	readinessKey       = "aggregate_ready"
	readinessThreshold = 0.80
	readyTTL           = time.Hour
	notReadyTTL        = 5 * time.Minute
)

type CoverageStore interface {
	CountValidComponents(ctx context.Context) (int64, error)
	SumGroupComponentCount(ctx context.Context) (int64, error)
}

// Gate decides whether reads go to the location_groups aggregate or to raw components.
// The answer is kept in the statistics namespace and, for modes where Redis is off
// limits, in a process-local memo with the same TTL.
type Gate struct {
	store CoverageStore
	cache *cache.Governor
	now   func() time.Time

	mu    sync.Mutex
	ready bool
	until time.Time
}

func NewGate(store CoverageStore, governor *cache.Governor, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, cache: governor, now: now}
}

// ShouldUseAggregate reports whether the aggregate covers more than 80% of valid components.
func (g *Gate) ShouldUseAggregate(ctx context.Context) bool {
	g.mu.Lock()
	if g.now().Before(g.until) {
		ready := g.ready
		g.mu.Unlock()
		return ready
	}
	g.mu.Unlock()

	if raw, ok := g.cache.Get(ctx, cache.NamespaceStatistics, readinessKey); ok {
		ready := string(raw) == "1"
		g.remember(ready)
		return ready
	}

	ready, coverage, err := g.check(ctx)
	if err != nil {
		logger.Warnf(ctx, "readiness check failed, using components: %v", err)
		return false
	}
	logger.Infof(ctx, "aggregate coverage %.1f%%, ready=%t", coverage*100, ready)

	value := "0"
	if ready {
		value = "1"
	}
	g.cache.Set(ctx, cache.NamespaceStatistics, readinessKey, []byte(value), ttlFor(ready))
	g.remember(ready)
	return ready
}

func (g *Gate) check(ctx context.Context) (bool, float64, error) {
	total, err := g.store.CountValidComponents(ctx)
	if err != nil {
		return false, 0, err
	}
	if total == 0 {
		return false, 0, nil
	}
	covered, err := g.store.SumGroupComponentCount(ctx)
	if err != nil {
		return false, 0, err
	}
	coverage := float64(covered) / float64(total)
	return coverage > readinessThreshold, coverage, nil
}

func (g *Gate) remember(ready bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = ready
	g.until = g.now().Add(ttlFor(ready))
}

// Invalidate forgets the cached answer, e.g. after a rebuild.
func (g *Gate) Invalidate(ctx context.Context) {
	g.mu.Lock()
	g.until = time.Time{}
	g.mu.Unlock()
	g.cache.Invalidate(ctx, cache.NamespaceStatistics, readinessKey)
}

func ttlFor(ready bool) time.Duration {
	if ready {
		return readyTTL
	}
	return notReadyTTL
}
