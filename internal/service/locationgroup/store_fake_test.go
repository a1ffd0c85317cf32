package locationgroup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

type storedGroup struct {
	group     domain.LocationGroup
	touchedAt time.Time
}

// fakeStore keeps components and groups in memory with the same ordering rules as Postgres.
type fakeStore struct {
	mu         sync.Mutex
	components []*domain.Component
	groups     map[string]storedGroup
	runs       map[int64]any
	failUpsert map[string]error

	countCalls int
}

func newFakeStore(components ...*domain.Component) *fakeStore {
	return &fakeStore{
		components: components,
		groups:     make(map[string]storedGroup),
		runs:       make(map[int64]any),
		failUpsert: make(map[string]error),
	}
}

func (f *fakeStore) ListLocationKeys(_ context.Context, opts store.ListLocationKeysOpts) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := map[string]bool{}
	var keys []string
	for _, c := range f.components {
		if !domain.IsValidLocation(c.Location) || seen[c.Location] {
			continue
		}
		if opts.From != "" && (c.Location < opts.From || opts.After && c.Location == opts.From) {
			continue
		}
		seen[c.Location] = true
		keys = append(keys, c.Location)
	}
	sort.Strings(keys)
	if uint64(len(keys)) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	return keys, nil
}

func (f *fakeStore) ListComponentsByLocations(_ context.Context, locations []string) ([]*domain.Component, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := map[string]bool{}
	for _, l := range locations {
		want[l] = true
	}
	var res []*domain.Component
	for _, c := range f.components {
		if want[c.Location] {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeStore) CountValidComponents(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.countCalls++
	var n int64
	for _, c := range f.components {
		if domain.IsValidLocation(c.Location) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) OutwardCountyMapping(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := map[string]string{}
	for _, c := range f.components {
		if c.OutwardCode != "" && c.County != "" {
			m[c.OutwardCode] = c.County
		}
	}
	return m, nil
}

func (f *fakeStore) UpsertLocationGroup(_ context.Context, lg *domain.LocationGroup, touchedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failUpsert[lg.Location]; err != nil {
		return false, err
	}
	_, exists := f.groups[lg.Location]
	f.groups[lg.Location] = storedGroup{group: *lg, touchedAt: touchedAt}
	return !exists, nil
}

func (f *fakeStore) DeleteLocationGroupsNotTouchedSince(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for k, g := range f.groups {
		if g.touchedAt.Before(since) {
			delete(f.groups, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SumGroupComponentCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, g := range f.groups {
		n += int64(g.group.ComponentCount)
	}
	return n, nil
}

func (f *fakeStore) CreateBuildRun(context.Context, time.Time, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := int64(len(f.runs) + 1)
	f.runs[id] = nil
	return id, nil
}

func (f *fakeStore) FinishBuildRun(_ context.Context, id int64, _ time.Time, report any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs[id] = report
	return nil
}

func (f *fakeStore) LatestBuildVersion(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return int64(len(f.runs)), nil
}

func (f *fakeStore) group(location string) (storedGroup, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.groups[location]
	return g, ok
}
