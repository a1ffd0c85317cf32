package egress

import (
	"context"
	"sync/atomic"
)

// Tracker accumulates per-request counters. It is attached to the request context
// by the HTTP hook and filled in by the store and the cache governor.
type Tracker struct {
	dbQueries   atomic.Int64
	rowsFetched atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	apiCalls    atomic.Int64
	upstream    atomic.Int64
}

type trackerKey struct{}

func WithTracker(ctx context.Context) (context.Context, *Tracker) {
	t := &Tracker{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

func FromContext(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

func RecordQuery(ctx context.Context, rows int) {
	if t := FromContext(ctx); t != nil {
		t.dbQueries.Add(1)
		t.rowsFetched.Add(int64(rows))
	}
}

func RecordCacheHit(ctx context.Context) {
	if t := FromContext(ctx); t != nil {
		t.cacheHits.Add(1)
	}
}

func RecordCacheMiss(ctx context.Context) {
	if t := FromContext(ctx); t != nil {
		t.cacheMisses.Add(1)
	}
}

func RecordAPICall(ctx context.Context) {
	if t := FromContext(ctx); t != nil {
		t.apiCalls.Add(1)
	}
}

func RecordUpstreamError(ctx context.Context) {
	if t := FromContext(ctx); t != nil {
		t.upstream.Add(1)
	}
}

// Fill copies the tracker counters into s.
func (t *Tracker) Fill(s *Sample) {
	if t == nil {
		return
	}
	s.DBQueries = int(t.dbQueries.Load())
	s.RowsFetched = int(t.rowsFetched.Load())
	s.CacheHits = int(t.cacheHits.Load())
	s.CacheMisses = int(t.cacheMisses.Load())
	s.APICalls = int(t.apiCalls.Load())
	s.UpstreamErrors = int(t.upstream.Load())
}
