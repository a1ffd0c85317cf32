package store

import (
	"context"
	"time"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/domain/dto"
	"github.com/ougirez/cmregistry/internal/pkg/store/xpgx"
)

type Pool = xpgx.Pool

type ComponentStore interface {
	ListLocationKeys(ctx context.Context, opts ListLocationKeysOpts) ([]string, error)
	ListComponentsByLocations(ctx context.Context, locations []string) ([]*domain.Component, error)
	CountValidComponents(ctx context.Context) (int64, error)
	OutwardCountyMapping(ctx context.Context) (map[string]string, error)
}

type LocationGroupStore interface {
	UpsertLocationGroup(ctx context.Context, lg *domain.LocationGroup, touchedAt time.Time) (bool, error)
	DeleteLocationGroupsNotTouchedSince(ctx context.Context, since time.Time) (int64, error)
	SumGroupComponentCount(ctx context.Context) (int64, error)
}

type SearchStore interface {
	ListLocationGroups(ctx context.Context, opts ListLocationGroupsOpts) ([]dto.LocationGroupView, error)
	CountLocationGroups(ctx context.Context, opts ListLocationGroupsOpts) (int, error)
	ListMapClusters(ctx context.Context, opts MapClustersOpts) ([]dto.MapCluster, error)
	FacetValues(ctx context.Context, opts FacetOpts) (*dto.DropdownMetadata, error)
	TechnologyStats(ctx context.Context) ([]dto.TechnologyStat, error)
	ListCompanies(ctx context.Context, source Source) ([]dto.Company, error)
}

type BuildRunStore interface {
	CreateBuildRun(ctx context.Context, startedAt time.Time, resumeFrom string) (int64, error)
	FinishBuildRun(ctx context.Context, id int64, finishedAt time.Time, report any) error
	LatestBuildVersion(ctx context.Context) (int64, error)
}

type ProfileStore interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetProfile(ctx context.Context, userID int64) (*domain.Profile, error)
	StartTrial(ctx context.Context, userID int64, at time.Time) (*domain.Profile, error)
	IncrementMapViews(ctx context.Context, userID int64) error
}

type Store interface {
	ComponentStore
	LocationGroupStore
	SearchStore
	BuildRunStore
	ProfileStore
	Migrate(ctx context.Context) ([]string, error)
}

type store struct {
	pool Pool
}

func NewStore(pool Pool) Store {
	return &store{pool}
}
