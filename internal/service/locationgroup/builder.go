package locationgroup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/metrics"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

const (
	DefaultBatchSize = 200
	upsertWorkers    = 4

	countyMappingKey = "outward_county"
)

type Store interface {
	store.ComponentStore
	store.LocationGroupStore
	store.BuildRunStore
}

type RebuildOpts struct {
	BatchSize int
	// ResumeFrom starts the run at this location key, inclusive. Empty means a full run.
	ResumeFrom string
}

type BuildReport struct {
	RunID              int64     `json:"run_id"`
	ResumeFrom         string    `json:"resume_from,omitempty"`
	GroupsCreated      int       `json:"groups_created"`
	GroupsUpdated      int       `json:"groups_updated"`
	GroupsPruned       int64     `json:"groups_pruned"`
	ComponentsCovered  int       `json:"components_covered"`
	CoveragePercentage float64   `json:"coverage_percentage"`
	SkippedLocations   []string  `json:"skipped_locations,omitempty"`
	SkippedComponents  int       `json:"skipped_components"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Partial reports whether some locations or components were left out of the run.
func (r *BuildReport) Partial() bool {
	return len(r.SkippedLocations) > 0 || r.SkippedComponents > 0
}

type Service struct {
	store Store
	cache *cache.Governor
	gate  *Gate
	now   func() time.Time
}

func NewLocationGroupService(store Store, governor *cache.Governor, gate *Gate, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, cache: governor, gate: gate, now: now}
}

// Rebuild folds components into location groups batch by batch, in location order.
// A bad component is skipped and reported; only database unavailability stops the run.
func (s *Service) Rebuild(ctx context.Context, opts RebuildOpts) (*BuildReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	report := &BuildReport{ResumeFrom: opts.ResumeFrom, StartedAt: s.now()}
	// updated_at of touched rows; the prune step relies on it being the same for the whole run
	touchedAt := report.StartedAt

	runID, err := s.store.CreateBuildRun(ctx, report.StartedAt, opts.ResumeFrom)
	if err != nil {
		return nil, fmt.Errorf("store.CreateBuildRun: %w", err)
	}
	report.RunID = runID

	counties, err := s.countyMapping(ctx)
	if err != nil {
		logger.Warnf(ctx, "outward code county mapping unavailable: %v", err)
		counties = map[string]string{}
	}

	cursor, after := opts.ResumeFrom, false
	for batch := 1; ; batch++ {
		keys, err := s.store.ListLocationKeys(ctx, store.ListLocationKeysOpts{
			From:  cursor,
			After: after,
			Limit: uint64(opts.BatchSize),
		})
		if err != nil {
			return report, fmt.Errorf("store.ListLocationKeys after %q: %w", cursor, err)
		}
		if len(keys) == 0 {
			break
		}

		if err = s.buildBatch(ctx, keys, counties, touchedAt, report); err != nil {
			return report, err
		}

		cursor, after = keys[len(keys)-1], true
		logger.Infof(ctx, "rebuild batch %d: %d locations up to %q, %d created, %d updated, %d skipped",
			batch, len(keys), cursor, report.GroupsCreated, report.GroupsUpdated, len(report.SkippedLocations))

		if len(keys) < opts.BatchSize {
			break
		}
	}

	if opts.ResumeFrom == "" && !report.Partial() {
		pruned, err := s.store.DeleteLocationGroupsNotTouchedSince(ctx, touchedAt)
		if err != nil {
			return report, fmt.Errorf("store.DeleteLocationGroupsNotTouchedSince: %w", err)
		}
		report.GroupsPruned = pruned
	}

	if err = s.fillCoverage(ctx, report); err != nil {
		logger.Warnf(ctx, "rebuild coverage: %v", err)
	}

	sort.Strings(report.SkippedLocations)
	report.FinishedAt = s.now()
	if err = s.store.FinishBuildRun(ctx, runID, report.FinishedAt, report); err != nil {
		return report, fmt.Errorf("store.FinishBuildRun: %w", err)
	}

	s.afterRebuild(ctx)
	logger.Infof(ctx, "rebuild %d finished: %d created, %d updated, %d pruned, coverage %.2f%%",
		runID, report.GroupsCreated, report.GroupsUpdated, report.GroupsPruned, report.CoveragePercentage)
	return report, nil
}

func (s *Service) buildBatch(
	ctx context.Context,
	keys []string,
	counties map[string]string,
	touchedAt time.Time,
	report *BuildReport,
) error {
	components, err := s.store.ListComponentsByLocations(ctx, keys)
	if err != nil {
		return fmt.Errorf("store.ListComponentsByLocations: %w", err)
	}
	byLocation := make(map[string][]*domain.Component, len(keys))
	for _, c := range components {
		byLocation[c.Location] = append(byLocation[c.Location], c)
	}

	var (
		mu                sync.Mutex
		created, updated  atomic.Int64
		covered, badComps atomic.Int64
	)
	skip := func(location string) {
		metrics.IncRebuildLocation("skipped")
		mu.Lock()
		report.SkippedLocations = append(report.SkippedLocations, location)
		mu.Unlock()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(upsertWorkers)
	for _, key := range keys {
		key := key
		eg.Go(func() error {
			lg, errs := dto.Aggregate(key, byLocation[key])
			for _, err := range errs {
				logger.Warnf(egCtx, "rebuild %q: %v", key, err)
			}
			if lg == nil {
				skip(key)
				return nil
			}
			badComps.Add(int64(len(errs)))

			if lg.County == "" {
				lg.County = counties[lg.OutwardCode]
			}

			isNew, err := s.store.UpsertLocationGroup(egCtx, lg, touchedAt)
			if err != nil {
				if errors.Is(err, constants.ErrUpstream) || egCtx.Err() != nil {
					return fmt.Errorf("store.UpsertLocationGroup %q: %w", key, err)
				}
				logger.Errorf(egCtx, "rebuild %q: %v", key, err)
				skip(key)
				return nil
			}

			covered.Add(int64(lg.ComponentCount))
			if isNew {
				created.Add(1)
				metrics.IncRebuildLocation("created")
			} else {
				updated.Add(1)
				metrics.IncRebuildLocation("updated")
			}
			return nil
		})
	}
	err = eg.Wait()

	report.GroupsCreated += int(created.Load())
	report.GroupsUpdated += int(updated.Load())
	report.ComponentsCovered += int(covered.Load())
	report.SkippedComponents += int(badComps.Load())
	return err
}

func (s *Service) countyMapping(ctx context.Context) (map[string]string, error) {
	return cache.Fetch(ctx, s.cache, cache.NamespaceLocationMapping, countyMappingKey, 0,
		func(ctx context.Context) (map[string]string, error) {
			return s.store.OutwardCountyMapping(ctx)
		})
}

func (s *Service) fillCoverage(ctx context.Context, report *BuildReport) error {
	total, err := s.store.CountValidComponents(ctx)
	if err != nil {
		return fmt.Errorf("store.CountValidComponents: %w", err)
	}
	if total == 0 {
		return nil
	}
	covered, err := s.store.SumGroupComponentCount(ctx)
	if err != nil {
		return fmt.Errorf("store.SumGroupComponentCount: %w", err)
	}
	report.CoveragePercentage = math.Round(float64(covered)/float64(total)*10000) / 100
	return nil
}

// afterRebuild drops everything derived from the previous aggregate.
func (s *Service) afterRebuild(ctx context.Context) {
	if s.gate != nil {
		s.gate.Invalidate(ctx)
	}
	for _, ns := range []cache.Namespace{
		cache.NamespaceStatistics,
		cache.NamespaceSearch,
		cache.NamespaceMapData,
		cache.NamespaceCompanyIndex,
	} {
		if _, err := s.cache.ClearNamespace(ctx, ns); err != nil {
			logger.Warnf(ctx, "clear %s after rebuild: %v", ns, err)
		}
	}
}
