package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

type fakeProfileStore struct {
	users    map[int64]*domain.User
	profiles map[int64]*domain.Profile
}

func (f *fakeProfileStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, constants.ErrDBNotFound
}

func (f *fakeProfileStore) GetProfile(_ context.Context, userID int64) (*domain.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, constants.ErrDBNotFound
}

func (f *fakeProfileStore) StartTrial(_ context.Context, userID int64, at time.Time) (*domain.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		p = &domain.Profile{UserID: userID}
		f.profiles[userID] = p
	}
	if p.FreeAccessStartTime == nil {
		p.FreeAccessStartTime = &at
	}
	return p, nil
}

func (f *fakeProfileStore) IncrementMapViews(_ context.Context, userID int64) error {
	p, ok := f.profiles[userID]
	if !ok {
		p = &domain.Profile{UserID: userID}
		f.profiles[userID] = p
	}
	p.MapViews++
	return nil
}

func TestSubject(t *testing.T) {
	fs := &fakeProfileStore{
		users:    map[int64]*domain.User{1: {ID: 1, Email: "a@example.com"}},
		profiles: map[int64]*domain.Profile{},
	}
	svc := NewUserService(fs, nil)
	ctx := context.Background()

	s, err := svc.Subject(ctx, 1)
	require.NoError(t, err)
	assert.True(t, s.Authenticated())
	assert.Equal(t, int64(1), s.Profile.UserID)

	_, err = svc.Subject(ctx, 2)
	assert.ErrorIs(t, err, constants.ErrUnauthorized)
}

func TestStartTrialKeepsFirstStart(t *testing.T) {
	fs := &fakeProfileStore{profiles: map[int64]*domain.Profile{}}
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := first
	svc := NewUserService(fs, func() time.Time { return clock })
	ctx := context.Background()

	p, err := svc.StartTrial(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, *p.FreeAccessStartTime)

	clock = clock.Add(48 * time.Hour)
	p, err = svc.StartTrial(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, *p.FreeAccessStartTime)

	require.NoError(t, svc.RecordMapView(ctx, 1))
	assert.Equal(t, 1, fs.profiles[1].MapViews)
}
