/**
 * @description
 * This file defines the subscription plan catalog model and the billing-period
 * arithmetic shared by the subscription flows and the renewal sweep.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanDuration is the billing cadence of a subscription plan.
type PlanDuration string

const (
	DurationMonthly   PlanDuration = "monthly"
	DurationQuarterly PlanDuration = "quarterly"
	DurationYearly    PlanDuration = "yearly"
)

// Valid reports whether the duration is one of the supported cadences.
func (d PlanDuration) Valid() bool {
	switch d {
	case DurationMonthly, DurationQuarterly, DurationYearly:
		return true
	}
	return false
}

// Months returns the length of one billing period in calendar months.
func (d PlanDuration) Months() int {
	switch d {
	case DurationQuarterly:
		return 3
	case DurationYearly:
		return 12
	default:
		return 1
	}
}

// SubscriptionPlan represents a purchasable plan in the catalog. Plans are
// read-mostly; transactions snapshot the plan id and price at creation time so
// later catalog edits never rewrite billing history.
type SubscriptionPlan struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Price     int64            `json:"price"` // minor currency units
	Currency  string           `json:"currency"`
	Duration  PlanDuration     `json:"duration"`
	Features  []string         `json:"features"`
	Limits    map[string]int64 `json:"limits"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NextPeriodEnd returns the end of the billing period that starts at from.
// Periods are calendar-aligned: adding a month to Jan 31 lands on the last day
// of February, never on Mar 2. This keeps renewal extensions anchored to the
// original billing day whenever the target month allows it.
func NextPeriodEnd(from time.Time, d PlanDuration) time.Time {
	return addCalendarMonths(from, d.Months())
}

func addCalendarMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}
