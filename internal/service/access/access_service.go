package access

import (
	"context"
	"time"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
)

type Profiles interface {
	StartTrial(ctx context.Context, userID int64) (*domain.Profile, error)
	RecordMapView(ctx context.Context, userID int64) error
}

type Service struct {
	profiles Profiles
	mapQuota int
	now      func() time.Time
}

func NewAccessService(profiles Profiles, mapQuota int, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{profiles: profiles, mapQuota: mapQuota, now: now}
}

// Tier evaluates the subject's tier, starting the trial clock for a signed-in user
// who has never paid and has not started one. Expired subscribers must renew.
func (s *Service) Tier(ctx context.Context, subject *domain.Subject) domain.Tier {
	now := s.now()
	if s.needsTrial(subject) {
		profile, err := s.profiles.StartTrial(ctx, subject.User.ID)
		if err != nil {
			logger.Errorf(ctx, "start trial for user %d: %v", subject.User.ID, err)
		} else {
			subject.Profile = profile
		}
	}
	return Evaluate(*subject, now, s.mapQuota)
}

func (s *Service) needsTrial(subject *domain.Subject) bool {
	if !subject.Authenticated() || subject.User.IsStaff || subject.User.IsSuperuser {
		return false
	}
	p := subject.Profile
	return p == nil || (!p.HasPaidAccess && p.FreeAccessStartTime == nil)
}

func (s *Service) AuthorizeMap(ctx context.Context, subject *domain.Subject) (domain.Tier, error) {
	tier := s.Tier(ctx, subject)
	return tier, AuthorizeMap(tier)
}

func (s *Service) AuthorizeList(ctx context.Context, subject *domain.Subject, premium bool) (domain.Tier, error) {
	tier := s.Tier(ctx, subject)
	return tier, AuthorizeList(tier, premium)
}

// MapRendered counts a successful map render against the subject's trial quota.
func (s *Service) MapRendered(ctx context.Context, subject *domain.Subject) {
	if !subject.Authenticated() {
		return
	}
	if err := s.profiles.RecordMapView(ctx, subject.User.ID); err != nil {
		logger.Warnf(ctx, "record map view for user %d: %v", subject.User.ID, err)
		return
	}
	if subject.Profile != nil {
		subject.Profile.MapViews++
	}
}
