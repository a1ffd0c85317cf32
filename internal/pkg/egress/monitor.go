package egress

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultPerBucket     = 100
	defaultBuckets       = 5
	defaultAlertCapacity = 50
	recentMetricsLimit   = 20
)

// Sample is one observed response.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	Path           string    `json:"path"`
	ResponseBytes  int64     `json:"response_bytes"`
	ResponseMS     float64   `json:"response_ms"`
	RowsFetched    int       `json:"rows_fetched"`
	DBQueries      int       `json:"db_queries"`
	CacheHits      int       `json:"cache_hits"`
	CacheMisses    int       `json:"cache_misses"`
	APICalls       int       `json:"api_calls"`
	UpstreamErrors int       `json:"upstream_errors"`
}

type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Alerts    []string  `json:"alerts"`
	Sample    Sample    `json:"metrics"`
}

type Thresholds struct {
	ResponseTime  time.Duration
	ResponseBytes int64
	CacheMissRate float64
	APICalls      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTime:  2 * time.Second,
		ResponseBytes: 50 * 1024,
		CacheMissRate: 0.3,
		APICalls:      5,
	}
}

type Summary struct {
	AvgMS        float64 `json:"avg_ms"`
	AvgKB        float64 `json:"avg_kb"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	RequestCount int     `json:"request_count"`
	RowsFetched  int     `json:"rows_fetched"`
}

type Dashboard struct {
	RecentAlerts  []Alert  `json:"recent_alerts"`
	Summary       Summary  `json:"summary"`
	RecentMetrics []Sample `json:"recent_metrics"`
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithCapacity(perBucket, buckets, alerts int) Option {
	return func(m *Monitor) {
		m.perBucket = perBucket
		m.buckets = buckets
		m.alertCapacity = alerts
	}
}

// Monitor keeps a bounded window of response samples bucketed by minute and a ring of
// the most recent threshold breaches.
type Monitor struct {
	mu            sync.Mutex
	thresholds    Thresholds
	samples       map[int64][]Sample
	alerts        []Alert
	perBucket     int
	buckets       int
	alertCapacity int
	now           func() time.Time
}

func NewMonitor(thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds:    thresholds,
		samples:       make(map[int64][]Sample),
		perBucket:     defaultPerBucket,
		buckets:       defaultBuckets,
		alertCapacity: defaultAlertCapacity,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func minuteOf(t time.Time) int64 {
	return t.Unix() / 60
}

// Record stores s, evaluates thresholds and returns the alert messages it raised.
func (m *Monitor) Record(ctx context.Context, s Sample) []string {
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}

	metrics.ObserveResponse(s.Path, s.ResponseBytes, s.ResponseMS/1000, s.RowsFetched)

	alerts := m.evaluate(s)

	m.mu.Lock()
	current := minuteOf(m.now())
	m.prune(current)

	bucket := min(minuteOf(s.Timestamp), current)
	if bucket > current-int64(m.buckets) {
		list := append(m.samples[bucket], s)
		if len(list) > m.perBucket {
			list = list[len(list)-m.perBucket:]
		}
		m.samples[bucket] = list
	}

	if len(alerts) > 0 {
		m.alerts = append(m.alerts, Alert{Timestamp: s.Timestamp, Path: s.Path, Alerts: alerts, Sample: s})
		if len(m.alerts) > m.alertCapacity {
			m.alerts = m.alerts[len(m.alerts)-m.alertCapacity:]
		}
	}
	m.mu.Unlock()

	if len(alerts) > 0 {
		logger.Warn(ctx, "egress alert",
			zap.String("path", s.Path),
			zap.Strings("alerts", alerts),
			zap.Int64("response_bytes", s.ResponseBytes),
			zap.Int("rows_fetched", s.RowsFetched),
		)
	}

	return alerts
}

func (m *Monitor) evaluate(s Sample) []string {
	var alerts []string
	th := m.thresholds

	if ms := time.Duration(s.ResponseMS * float64(time.Millisecond)); ms > th.ResponseTime {
		alerts = append(alerts, fmt.Sprintf("Slow response: %.2fs (threshold: %.2fs)", ms.Seconds(), th.ResponseTime.Seconds()))
	}
	if s.ResponseBytes > th.ResponseBytes {
		alerts = append(alerts, fmt.Sprintf("Large response: %s (threshold: %s)", bytes.Format(s.ResponseBytes), bytes.Format(th.ResponseBytes)))
	}
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		rate := float64(s.CacheMisses) / float64(total)
		if rate > th.CacheMissRate {
			alerts = append(alerts, fmt.Sprintf("High cache miss rate: %.1f%% (threshold: %.1f%%)", rate*100, th.CacheMissRate*100))
		}
	}
	if s.APICalls > th.APICalls {
		alerts = append(alerts, fmt.Sprintf("Too many API calls: %d (threshold: %d)", s.APICalls, th.APICalls))
	}
	if s.UpstreamErrors > 0 {
		alerts = append(alerts, fmt.Sprintf("Upstream errors: %d", s.UpstreamErrors))
	}
	return alerts
}

// prune drops buckets outside the retained window. Callers hold m.mu.
func (m *Monitor) prune(current int64) {
	oldest := current - int64(m.buckets) + 1
	for bucket := range m.samples {
		if bucket < oldest {
			delete(m.samples, bucket)
		}
	}
}

// Len reports how many samples are retained.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, list := range m.samples {
		n += len(list)
	}
	return n
}

func (m *Monitor) Dashboard() Dashboard {
	m.mu.Lock()
	m.prune(minuteOf(m.now()))

	var all []Sample
	for _, list := range m.samples {
		all = append(all, list...)
	}
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	m.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	var (
		summary     Summary
		totalMS     float64
		totalBytes  int64
		hits, total int
	)
	for _, s := range all {
		totalMS += s.ResponseMS
		totalBytes += s.ResponseBytes
		hits += s.CacheHits
		total += s.CacheHits + s.CacheMisses
		summary.RowsFetched += s.RowsFetched
	}
	summary.RequestCount = len(all)
	if len(all) > 0 {
		summary.AvgMS = round2(totalMS / float64(len(all)))
		summary.AvgKB = round2(float64(totalBytes) / float64(len(all)) / 1024)
	}
	if total > 0 {
		summary.CacheHitRate = round2(float64(hits) / float64(total))
	}

	recent := all
	if len(recent) > recentMetricsLimit {
		recent = recent[len(recent)-recentMetricsLimit:]
	}

	// newest first
	for i, j := 0, len(alerts)-1; i < j; i, j = i+1, j-1 {
		alerts[i], alerts[j] = alerts[j], alerts[i]
	}

	return Dashboard{
		RecentAlerts:  alerts,
		Summary:       summary,
		RecentMetrics: recent,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
