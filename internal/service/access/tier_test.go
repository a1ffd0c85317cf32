package access

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ougirez/cmregistry/internal/domain"
	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func subject(p *domain.Profile) domain.Subject {
	return domain.Subject{User: &domain.User{ID: 1}, Profile: p}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		subject domain.Subject
		want    domain.Tier
	}{
		{name: "anonymous", subject: domain.Subject{}, want: domain.TierAnonymous},
		{
			name:    "staff",
			subject: domain.Subject{User: &domain.User{ID: 1, IsStaff: true}},
			want:    domain.TierFull,
		},
		{
			name:    "superuser without profile",
			subject: domain.Subject{User: &domain.User{ID: 1, IsSuperuser: true}},
			want:    domain.TierFull,
		},
		{
			name:    "paid 5",
			subject: subject(&domain.Profile{HasPaidAccess: true, PaymentAmount: decimal.NewFromInt(5)}),
			want:    domain.TierFull,
		},
		{
			name: "paid 5 ignores an expired trial",
			subject: subject(&domain.Profile{
				HasPaidAccess:       true,
				PaymentAmount:       decimal.NewFromFloat(9.99),
				FreeAccessStartTime: at(-72 * time.Hour),
			}),
			want: domain.TierFull,
		},
		{
			name:    "paid 2",
			subject: subject(&domain.Profile{HasPaidAccess: true, PaymentAmount: decimal.NewFromInt(2)}),
			want:    domain.TierListOnly,
		},
		{
			name:    "paid 4.99",
			subject: subject(&domain.Profile{HasPaidAccess: true, PaymentAmount: decimal.RequireFromString("4.99")}),
			want:    domain.TierListOnly,
		},
		{
			name:    "legacy paid without amount",
			subject: subject(&domain.Profile{HasPaidAccess: true}),
			want:    domain.TierFull,
		},
		{
			name: "paid access expired",
			subject: subject(&domain.Profile{
				HasPaidAccess:    true,
				PaymentAmount:    decimal.NewFromInt(5),
				PaidAccessExpiry: at(-time.Minute),
			}),
			want: domain.TierTrialExpired,
		},
		{
			name:    "trial running",
			subject: subject(&domain.Profile{FreeAccessStartTime: at(-23 * time.Hour)}),
			want:    domain.TierTrialFull,
		},
		{
			name:    "trial quota used",
			subject: subject(&domain.Profile{FreeAccessStartTime: at(-time.Hour), MapViews: 10}),
			want:    domain.TierTrialLimited,
		},
		{
			name:    "trial over",
			subject: subject(&domain.Profile{FreeAccessStartTime: at(-24 * time.Hour)}),
			want:    domain.TierTrialExpired,
		},
		{
			name:    "never started",
			subject: subject(&domain.Profile{}),
			want:    domain.TierTrialExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.subject, now, 10))
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		p := &domain.Profile{
			HasPaidAccess: r.Intn(2) == 0,
			PaymentAmount: decimal.NewFromInt(int64(r.Intn(8))),
			MapViews:      r.Intn(20),
		}
		if r.Intn(2) == 0 {
			p.FreeAccessStartTime = at(-time.Duration(r.Intn(48)) * time.Hour)
		}
		if r.Intn(3) == 0 {
			p.PaidAccessExpiry = at(time.Duration(r.Intn(48)-24) * time.Hour)
		}
		s := domain.Subject{User: &domain.User{ID: int64(i), IsStaff: r.Intn(10) == 0}, Profile: p}

		first := Evaluate(s, now, 10)
		assert.Equal(t, first, Evaluate(s, now, 10))
		if HasPaid(p, now) && p.PaymentAmount.GreaterThanOrEqual(decimal.NewFromInt(5)) {
			assert.Equal(t, domain.TierFull, first)
		}
	}
}

func TestAuthorizeMap(t *testing.T) {
	tests := []struct {
		tier     domain.Tier
		allowed  bool
		redirect string
	}{
		{tier: domain.TierFull, allowed: true},
		{tier: domain.TierTrialFull, allowed: true},
		{tier: domain.TierTrialLimited, redirect: constants.RedirectUpgrade},
		{tier: domain.TierListOnly, redirect: ""},
		{tier: domain.TierTrialExpired, redirect: constants.RedirectPayment},
		{tier: domain.TierAnonymous, redirect: constants.RedirectPayment},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			err := AuthorizeMap(tt.tier)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var forbidden *constants.ForbiddenError
			if assert.ErrorAs(t, err, &forbidden) {
				assert.Equal(t, tt.redirect, forbidden.Redirect)
			}
			assert.ErrorIs(t, err, constants.ErrForbidden)
		})
	}
}

func TestAuthorizeList(t *testing.T) {
	assert.NoError(t, AuthorizeList(domain.TierAnonymous, false))
	assert.NoError(t, AuthorizeList(domain.TierTrialExpired, true))
	assert.ErrorIs(t, AuthorizeList(domain.TierAnonymous, true), constants.ErrForbidden)
}
