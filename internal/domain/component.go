package domain

import (
	"regexp"
	"strings"
	"time"
)

// Component is one row of the raw Capacity Market registry. The core never writes it.
type Component struct {
	ID                int64     `db:"id"`
	ComponentID       string    `db:"component_id"`
	CMUID             string    `db:"cmu_id"`
	CompanyName       string    `db:"company_name"`
	Technology        string    `db:"technology"`
	AuctionName       string    `db:"auction_name"`
	DeliveryYear      string    `db:"delivery_year"`
	Location          string    `db:"location"`
	Description       string    `db:"description"`
	DeratedCapacityMW *float64  `db:"derated_capacity_mw"`
	Latitude          *float64  `db:"latitude"`
	Longitude         *float64  `db:"longitude"`
	County            string    `db:"county"`
	OutwardCode       string    `db:"outward_code"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (c *Component) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Capacity returns the derated capacity, 0 when unknown.
func (c *Component) Capacity() float64 {
	if c.DeratedCapacityMW == nil {
		return 0
	}
	return *c.DeratedCapacityMW
}

// InvalidLocations are placeholder values the registry uses for unknown sites.
var InvalidLocations = []string{"", "None", "N/A", "NA", "TBC"}

const InvalidLocationFragment = "to be confirmed"

// IsValidLocation reports whether location names a real site.
func IsValidLocation(location string) bool {
	trimmed := strings.TrimSpace(location)
	for _, bad := range InvalidLocations {
		if strings.EqualFold(trimmed, bad) {
			return false
		}
	}
	return !strings.Contains(strings.ToLower(trimmed), InvalidLocationFragment)
}

// FutureAuctionYears is the canonical set of delivery years that make a location active.
var FutureAuctionYears = []string{"2024-25", "2025-26", "2026-27", "2027-28", "2028-29", "2029-30"}

// IsActiveAuctionYears reports whether any auction year contains a future delivery year.
func IsActiveAuctionYears(auctionYears []string) bool {
	for _, year := range auctionYears {
		for _, future := range FutureAuctionYears {
			if strings.Contains(year, future) {
				return true
			}
		}
	}
	return false
}

var postcodeRe = regexp.MustCompile(`\b([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})\b`)

// OutwardCode extracts the outward part of the last UK postcode in location ("SW1A" for "... SW1A 1AA").
func OutwardCode(location string) string {
	matches := postcodeRe.FindAllStringSubmatch(strings.ToUpper(location), -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

var outwardRe = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?$`)

// IsOutwardCode reports whether s is a bare outward code such as "SW1" or "YO8".
func IsOutwardCode(s string) bool {
	return outwardRe.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

// IsCMUID reports whether s looks like a CMU identifier such as "VIT304" or "CM_GBR-123".
func IsCMUID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 4 || len(s) > 50 || strings.ContainsAny(s, " \t") {
		return false
	}
	var letters, digits int
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return letters > 0 && digits > 0
}
