package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierAnonymous    Tier = "anonymous"
	TierTrialFull    Tier = "trial_full"
	TierTrialLimited Tier = "trial_limited"
	TierListOnly     Tier = "list_only"
	TierFull         Tier = "full"
	TierTrialExpired Tier = "trial_expired"
)

type User struct {
	ID          int64  `db:"id"`
	Email       string `db:"email"`
	IsStaff     bool   `db:"is_staff"`
	IsSuperuser bool   `db:"is_superuser"`
}

// Profile is the payment and trial state of a user.
type Profile struct {
	UserID              int64           `db:"user_id"`
	HasPaidAccess       bool            `db:"has_paid_access"`
	PaymentAmount       decimal.Decimal `db:"payment_amount"`
	PaidAccessExpiry    *time.Time      `db:"paid_access_expiry"`
	FreeAccessStartTime *time.Time      `db:"free_access_start_time"`
	MapViews            int             `db:"map_views"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// Subject is who a request acts for. A nil User is an anonymous visitor.
type Subject struct {
	User    *User
	Profile *Profile
}

func (s Subject) Authenticated() bool {
	return s.User != nil
}
