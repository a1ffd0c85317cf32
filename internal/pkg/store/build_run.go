package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/bytedance/sonic"

	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

func (s *store) CreateBuildRun(ctx context.Context, startedAt time.Time, resumeFrom string) (int64, error) {
	query := builder().Insert(tableBuildRuns).
		Columns("started_at", "resume_from").
		Values(startedAt, nullIfEmpty(resumeFrom)).
		Suffix("returning id")

	var id int64
	if err := s.pool.Getx(ctx, &id, query); err != nil {
		logger.Errorf(ctx, "CreateBuildRun: %s", err.Error())
		return 0, wrapErr(err)
	}
	return id, nil
}

func (s *store) FinishBuildRun(ctx context.Context, id int64, finishedAt time.Time, report any) error {
	raw, err := sonic.Marshal(report)
	if err != nil {
		return err
	}

	query := builder().Update(tableBuildRuns).
		Set("finished_at", finishedAt).
		Set("report", string(raw)).
		Where(sq.Eq{"id": id})

	if _, err = s.pool.Execx(ctx, query); err != nil {
		logger.Errorf(ctx, "FinishBuildRun %d: %s", id, err.Error())
		return wrapErr(err)
	}
	return nil
}

// LatestBuildVersion is the id of the last finished rebuild, or 0 if none finished yet.
func (s *store) LatestBuildVersion(ctx context.Context) (int64, error) {
	query := builder().Select("COALESCE(max(id), 0)").
		From(tableBuildRuns).
		Where(sq.NotEq{"finished_at": nil})

	var id int64
	if err := s.pool.Getx(ctx, &id, query); err != nil {
		return 0, wrapErr(err)
	}
	return id, nil
}
