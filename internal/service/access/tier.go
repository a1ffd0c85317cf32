package access

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

const TrialDuration = 24 * time.Hour

var (
	fullAccessAmount = decimal.NewFromInt(5)
	listAccessAmount = decimal.NewFromInt(2)
)

// HasPaid reports whether the profile carries paid access that has not expired.
func HasPaid(p *domain.Profile, now time.Time) bool {
	if p == nil || !p.HasPaidAccess {
		return false
	}
	return p.PaidAccessExpiry == nil || now.Before(*p.PaidAccessExpiry)
}

// Evaluate computes the access tier. The first matching rule wins; the result depends
// only on the arguments.
func Evaluate(s domain.Subject, now time.Time, mapQuota int) domain.Tier {
	if !s.Authenticated() {
		return domain.TierAnonymous
	}
	if s.User.IsStaff || s.User.IsSuperuser {
		return domain.TierFull
	}

	p := s.Profile
	if HasPaid(p, now) {
		switch {
		case p.PaymentAmount.GreaterThanOrEqual(fullAccessAmount):
			return domain.TierFull
		case p.PaymentAmount.GreaterThanOrEqual(listAccessAmount):
			return domain.TierListOnly
		default:
			return domain.TierFull
		}
	}

	if p != nil && p.FreeAccessStartTime != nil && now.Sub(*p.FreeAccessStartTime) < TrialDuration {
		if p.MapViews >= mapQuota {
			return domain.TierTrialLimited
		}
		return domain.TierTrialFull
	}
	return domain.TierTrialExpired
}

// AuthorizeMap allows map views for trial_full and full. Other tiers get a
// ForbiddenError naming where to send the user; list_only gets the denial page.
func AuthorizeMap(t domain.Tier) error {
	switch t {
	case domain.TierFull, domain.TierTrialFull:
		return nil
	case domain.TierTrialLimited:
		return &constants.ForbiddenError{Tier: string(t), Redirect: constants.RedirectUpgrade}
	case domain.TierListOnly:
		return &constants.ForbiddenError{Tier: string(t)}
	default:
		return &constants.ForbiddenError{Tier: string(t), Redirect: constants.RedirectPayment}
	}
}

// AuthorizeList allows list views for every tier except anonymous visitors on premium lists.
func AuthorizeList(t domain.Tier, premium bool) error {
	if premium && t == domain.TierAnonymous {
		return &constants.ForbiddenError{Tier: string(t), Redirect: constants.RedirectPayment}
	}
	return nil
}
