package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"subtrack/internal/models"
)

func sub(id, name string, renewal time.Time, status models.SubscriptionStatus) models.Subscription {
	return models.Subscription{
		Base:            models.Base{ID: id},
		Name:            name,
		BillingCycle:    models.BillingCycleMonthly,
		NextRenewalDate: renewal,
		Status:          status,
	}
}

func TestDueAlerts_Window(t *testing.T) {
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	subs := []models.Subscription{
		sub("today", "Today", date(2025, 6, 1), models.SubscriptionStatusActive),
		sub("seven", "Seven", date(2025, 6, 8), models.SubscriptionStatusActive),
		sub("eight", "Eight", date(2025, 6, 9), models.SubscriptionStatusActive),
		sub("past", "Past", date(2025, 5, 31), models.SubscriptionStatusActive),
		sub("paused", "Paused", date(2025, 6, 3), models.SubscriptionStatusPaused),
		sub("cancelled", "Cancelled", date(2025, 6, 3), models.SubscriptionStatusCancelled),
	}

	got := DueAlerts(subs, now)

	assert.True(t, got.Contains("today"), "renewal today is due")
	assert.True(t, got.Contains("seven"), "7 days out is inclusive")
	assert.False(t, got.Contains("eight"), "8 days out is excluded")
	assert.False(t, got.Contains("past"), "past renewals are excluded")
	assert.False(t, got.Contains("paused"))
	assert.False(t, got.Contains("cancelled"))
	assert.Len(t, got, 2)
}

func TestDueAlerts_Idempotent(t *testing.T) {
	now := date(2025, 6, 1)
	subs := []models.Subscription{
		sub("a", "A", date(2025, 6, 2), models.SubscriptionStatusActive),
		sub("b", "B", date(2025, 6, 20), models.SubscriptionStatusActive),
	}

	first := DueAlerts(subs, now)
	second := DueAlerts(subs, now)
	assert.Equal(t, first, second)
}

func TestDueAlerts_Empty(t *testing.T) {
	assert.Empty(t, DueAlerts(nil, date(2025, 6, 1)))
}

func TestFilterDue_DisplayOrder(t *testing.T) {
	now := date(2025, 6, 1)
	subs := []models.Subscription{
		sub("3", "Zeta", date(2025, 6, 5), models.SubscriptionStatusActive),
		sub("1", "Beta", date(2025, 6, 3), models.SubscriptionStatusActive),
		sub("2", "Alpha", date(2025, 6, 5), models.SubscriptionStatusActive),
		sub("4", "Later", date(2025, 7, 5), models.SubscriptionStatusActive),
	}

	got := FilterDue(subs, now)

	names := make([]string, 0, len(got))
	for _, s := range got {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Beta", "Alpha", "Zeta"}, names)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysUntil(date(2026, 1, 1), now))
	assert.Equal(t, 0, DaysUntil(date(2025, 12, 31), now))
	assert.Equal(t, -1, DaysUntil(date(2025, 12, 30), now))
}

func TestDaysUntil_EvaluatesInUTC(t *testing.T) {
	// 23:30 in New York on March 10 is already March 11 in UTC.
	newYork := time.FixedZone("EST", -5*60*60)
	now := time.Date(2025, 3, 10, 23, 30, 0, 0, newYork)

	assert.Equal(t, date(2025, 3, 11), Civil(now))
	assert.Equal(t, 7, DaysUntil(date(2025, 3, 18), now))
	assert.Equal(t, 0, DaysUntil(date(2025, 3, 11), now))

	// Just past midnight in Singapore is still the previous UTC day.
	singapore := time.FixedZone("SGT", 8*60*60)
	early := time.Date(2025, 3, 11, 0, 30, 0, 0, singapore)
	assert.Equal(t, date(2025, 3, 10), Civil(early))
	assert.True(t, IsDue(&models.Subscription{
		BillingCycle:    models.BillingCycleMonthly,
		NextRenewalDate: date(2025, 3, 17),
		Status:          models.SubscriptionStatusActive,
	}, early))
}
