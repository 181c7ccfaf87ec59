// Package billing computes renewal dates and renewal alerts for subscriptions.
// Everything here is pure: no clock reads, no I/O.
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
)

// Civil returns t's UTC calendar date at midnight. Dates are always
// evaluated in UTC regardless of the host zone.
func Civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonthsClamped moves d forward by n months, clamping the day to the last
// day of the target month instead of overflowing into the next one.
func addMonthsClamped(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	total := int(m) - 1 + n
	ty := y + total/12
	tm := time.Month(total%12 + 1)
	if last := daysIn(ty, tm); day > last {
		day = last
	}
	return time.Date(ty, tm, day, 0, 0, 0, 0, time.UTC)
}

// Advance returns the renewal date that follows renewal for the given cycle.
//
//	weekly:  +7 days
//	monthly: same day next month, clamped to month end (Jan 31 -> Feb 28/29)
//	yearly:  same day next year (Feb 29 -> Feb 28 on non-leap years)
func Advance(renewal time.Time, cycle models.BillingCycle) (time.Time, error) {
	d := Civil(renewal)
	switch cycle {
	case models.BillingCycleWeekly:
		return d.AddDate(0, 0, 7), nil
	case models.BillingCycleMonthly:
		return addMonthsClamped(d, 1), nil
	case models.BillingCycleYearly:
		return addMonthsClamped(d, 12), nil
	}
	return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidCycle, fmt.Sprintf("unsupported billing cycle %q", cycle))
}

// RollForward advances renewal until it is on or after today. Dates already
// in the future are returned unchanged.
func RollForward(renewal time.Time, cycle models.BillingCycle, today time.Time) (time.Time, error) {
	d := Civil(renewal)
	limit := Civil(today)
	if !cycle.Valid() {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidCycle, fmt.Sprintf("unsupported billing cycle %q", cycle))
	}
	for d.Before(limit) {
		next, err := Advance(d, cycle)
		if err != nil {
			return time.Time{}, err
		}
		d = next
	}
	return d, nil
}

var (
	weeksPerMonth  = decimal.RequireFromString("4.33")
	weeksPerYear   = decimal.NewFromInt(52)
	monthsPerYear  = decimal.NewFromInt(12)
	centsPrecision = int32(2)
)

// MonthlyEquivalent converts a per-cycle cost into an approximate monthly cost.
func MonthlyEquivalent(cost decimal.Decimal, cycle models.BillingCycle) decimal.Decimal {
	switch cycle {
	case models.BillingCycleWeekly:
		return cost.Mul(weeksPerMonth).Round(centsPrecision)
	case models.BillingCycleYearly:
		return cost.Div(monthsPerYear).Round(centsPrecision)
	}
	return cost
}

// YearlyEquivalent converts a per-cycle cost into a yearly cost.
func YearlyEquivalent(cost decimal.Decimal, cycle models.BillingCycle) decimal.Decimal {
	switch cycle {
	case models.BillingCycleWeekly:
		return cost.Mul(weeksPerYear)
	case models.BillingCycleMonthly:
		return cost.Mul(monthsPerYear)
	}
	return cost
}
