package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name  string
		from  time.Time
		cycle models.BillingCycle
		want  time.Time
	}{
		{"weekly adds seven days", date(2025, 3, 10), models.BillingCycleWeekly, date(2025, 3, 17)},
		{"weekly crosses month", date(2025, 1, 29), models.BillingCycleWeekly, date(2025, 2, 5)},
		{"weekly crosses year", date(2024, 12, 28), models.BillingCycleWeekly, date(2025, 1, 4)},
		{"monthly same day", date(2025, 3, 15), models.BillingCycleMonthly, date(2025, 4, 15)},
		{"monthly clamps jan 31 to feb 28", date(2025, 1, 31), models.BillingCycleMonthly, date(2025, 2, 28)},
		{"monthly clamps jan 31 to feb 29 in leap year", date(2024, 1, 31), models.BillingCycleMonthly, date(2024, 2, 29)},
		{"monthly clamps mar 31 to apr 30", date(2025, 3, 31), models.BillingCycleMonthly, date(2025, 4, 30)},
		{"monthly december rolls year", date(2025, 12, 31), models.BillingCycleMonthly, date(2026, 1, 31)},
		{"yearly same day", date(2025, 6, 1), models.BillingCycleYearly, date(2026, 6, 1)},
		{"yearly leap day clamps", date(2024, 2, 29), models.BillingCycleYearly, date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(tt.from, tt.cycle)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got.Format(time.DateOnly), tt.want.Format(time.DateOnly))
		})
	}
}

func TestAdvance_MonthlyDayIsMinOfDayAndMonthLength(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		for day := 1; day <= daysIn(2025, month); day++ {
			from := date(2025, month, day)
			got, err := Advance(from, models.BillingCycleMonthly)
			require.NoError(t, err)

			nextMonth := month%12 + 1
			nextYear := 2025
			if month == time.December {
				nextYear = 2026
			}
			want := day
			if last := daysIn(nextYear, nextMonth); want > last {
				want = last
			}
			assert.Equal(t, nextMonth, got.Month(), "from %s", from.Format(time.DateOnly))
			assert.Equal(t, want, got.Day(), "from %s", from.Format(time.DateOnly))
		}
	}
}

func TestAdvance_InvalidCycle(t *testing.T) {
	_, err := Advance(date(2025, 1, 1), models.BillingCycle("fortnightly"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCycle)
}

func TestAdvance_IgnoresTimeOfDay(t *testing.T) {
	from := time.Date(2025, 5, 10, 23, 45, 0, 0, time.UTC)
	got, err := Advance(from, models.BillingCycleWeekly)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 5, 17), got)
}

func TestRollForward(t *testing.T) {
	t.Run("future date unchanged", func(t *testing.T) {
		got, err := RollForward(date(2025, 8, 1), models.BillingCycleMonthly, date(2025, 7, 1))
		require.NoError(t, err)
		assert.Equal(t, date(2025, 8, 1), got)
	})

	t.Run("today unchanged", func(t *testing.T) {
		got, err := RollForward(date(2025, 7, 1), models.BillingCycleMonthly, date(2025, 7, 1))
		require.NoError(t, err)
		assert.Equal(t, date(2025, 7, 1), got)
	})

	t.Run("several missed weekly renewals", func(t *testing.T) {
		got, err := RollForward(date(2025, 7, 1), models.BillingCycleWeekly, date(2025, 7, 20))
		require.NoError(t, err)
		assert.Equal(t, date(2025, 7, 22), got)
	})

	t.Run("monthly clamp carries forward", func(t *testing.T) {
		got, err := RollForward(date(2025, 1, 31), models.BillingCycleMonthly, date(2025, 3, 15))
		require.NoError(t, err)
		// Jan 31 -> Feb 28 -> Mar 28
		assert.Equal(t, date(2025, 3, 28), got)
	})

	t.Run("invalid cycle", func(t *testing.T) {
		_, err := RollForward(date(2025, 1, 1), "daily", date(2025, 2, 1))
		assert.ErrorIs(t, err, apperrors.ErrInvalidCycle)
	})
}

func TestEquivalents(t *testing.T) {
	tests := []struct {
		cycle   models.BillingCycle
		cost    string
		monthly string
		yearly  string
	}{
		{models.BillingCycleMonthly, "15.99", "15.99", "191.88"},
		{models.BillingCycleYearly, "120", "10", "120"},
		{models.BillingCycleWeekly, "10", "43.3", "520"},
	}

	for _, tt := range tests {
		t.Run(string(tt.cycle), func(t *testing.T) {
			cost := decimal.RequireFromString(tt.cost)
			assert.True(t, MonthlyEquivalent(cost, tt.cycle).Equal(decimal.RequireFromString(tt.monthly)),
				"monthly = %s", MonthlyEquivalent(cost, tt.cycle))
			assert.True(t, YearlyEquivalent(cost, tt.cycle).Equal(decimal.RequireFromString(tt.yearly)),
				"yearly = %s", YearlyEquivalent(cost, tt.cycle))
		})
	}
}
