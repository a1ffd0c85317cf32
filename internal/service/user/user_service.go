package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
	"github.com/ougirez/cmregistry/internal/pkg/store"
)

type Service struct {
	store store.ProfileStore
	now   func() time.Time
}

func NewUserService(store store.ProfileStore, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// Subject loads the user and profile behind userID. A user without a profile row
// gets an empty profile.
func (s *Service) Subject(ctx context.Context, userID int64) (domain.Subject, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, constants.ErrDBNotFound) {
			return domain.Subject{}, constants.ErrUnauthorized
		}
		return domain.Subject{}, fmt.Errorf("store.GetUser: %w", err)
	}

	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, constants.ErrDBNotFound):
		profile = &domain.Profile{UserID: userID}
	case err != nil:
		return domain.Subject{}, fmt.Errorf("store.GetProfile: %w", err)
	}
	return domain.Subject{User: u, Profile: profile}, nil
}

func (s *Service) StartTrial(ctx context.Context, userID int64) (*domain.Profile, error) {
	profile, err := s.store.StartTrial(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("store.StartTrial: %w", err)
	}
	return profile, nil
}

func (s *Service) RecordMapView(ctx context.Context, userID int64) error {
	if err := s.store.IncrementMapViews(ctx, userID); err != nil {
		return fmt.Errorf("store.IncrementMapViews: %w", err)
	}
	return nil
}
