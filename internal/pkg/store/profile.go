package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

var profileColumns = []string{
	"user_id",
	"has_paid_access",
	"payment_amount",
	"paid_access_expiry",
	"free_access_start_time",
	"map_views",
	"updated_at",
}

func (s *store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query := builder().Select("id", "email", "is_staff", "is_superuser").
		From(tableUsers).
		Where(sq.Eq{"id": id})

	var user domain.User
	if err := s.pool.Getx(ctx, &user, query); err != nil {
		return nil, wrapErr(err)
	}
	return &user, nil
}

func (s *store) GetProfile(ctx context.Context, userID int64) (*domain.Profile, error) {
	query := builder().Select(profileColumns...).
		From(tableProfiles).
		Where(sq.Eq{"user_id": userID})

	var profile domain.Profile
	if err := s.pool.Getx(ctx, &profile, query); err != nil {
		return nil, wrapErr(err)
	}
	return &profile, nil
}

// StartTrial sets the trial clock unless it is already running or the user has paid,
// and returns the resulting profile.
func (s *store) StartTrial(ctx context.Context, userID int64, at time.Time) (*domain.Profile, error) {
	query := builder().Insert(tableProfiles).
		Columns("user_id", "free_access_start_time", "updated_at").
		Values(userID, at, at).
		Suffix(`
on conflict (user_id)
do update
set
	free_access_start_time = CASE
		WHEN user_profiles.has_paid_access THEN user_profiles.free_access_start_time
		ELSE COALESCE(user_profiles.free_access_start_time, excluded.free_access_start_time)
	END,
	updated_at = excluded.updated_at
returning user_id, has_paid_access, payment_amount, paid_access_expiry, free_access_start_time, map_views, updated_at`)

	var profile domain.Profile
	if err := s.pool.Getx(ctx, &profile, query); err != nil {
		logger.Errorf(ctx, "StartTrial user %d: %s", userID, err.Error())
		return nil, wrapErr(err)
	}
	return &profile, nil
}

func (s *store) IncrementMapViews(ctx context.Context, userID int64) error {
	query := builder().Insert(tableProfiles).
		Columns("user_id", "map_views", "updated_at").
		Values(userID, 1, sq.Expr("now()")).
		Suffix(`
on conflict (user_id)
do update
set
	map_views = user_profiles.map_views + 1,
	updated_at = excluded.updated_at`)

	if _, err := s.pool.Execx(ctx, query); err != nil {
		logger.Errorf(ctx, "IncrementMapViews user %d: %s", userID, err.Error())
		return wrapErr(err)
	}
	return nil
}
