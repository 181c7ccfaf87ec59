package billing

import (
	"sort"
	"time"

	"subtrack/internal/models"
)

// AlertWindowDays is how many days ahead of a renewal an alert becomes due.
const AlertWindowDays = 7

// AlertSet is the set of subscription IDs due for a renewal alert.
type AlertSet map[string]struct{}

// Contains reports whether id is in the set.
func (s AlertSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// DaysUntil returns the number of calendar days from now to renewal.
// Negative when the renewal has already passed.
func DaysUntil(renewal, now time.Time) int {
	return int(Civil(renewal).Sub(Civil(now)).Hours() / 24)
}

// IsDue reports whether sub is active and renews within the alert window.
// Both window ends are inclusive.
func IsDue(sub *models.Subscription, now time.Time) bool {
	if !sub.IsActive() {
		return false
	}
	days := DaysUntil(sub.NextRenewalDate, now)
	return days >= 0 && days <= AlertWindowDays
}

// DueAlerts returns the IDs of subscriptions that should be alerted as of now.
func DueAlerts(subs []models.Subscription, now time.Time) AlertSet {
	set := make(AlertSet)
	for i := range subs {
		if IsDue(&subs[i], now) {
			set[subs[i].ID] = struct{}{}
		}
	}
	return set
}

// FilterDue returns the due subscriptions from subs in display order.
func FilterDue(subs []models.Subscription, now time.Time) []models.Subscription {
	due := DueAlerts(subs, now)
	out := make([]models.Subscription, 0, len(due))
	for _, s := range subs {
		if due.Contains(s.ID) {
			out = append(out, s)
		}
	}
	SortForDisplay(out)
	return out
}

// SortForDisplay orders subscriptions by next renewal date, then by name.
func SortForDisplay(subs []models.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		di, dj := Civil(subs[i].NextRenewalDate), Civil(subs[j].NextRenewalDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return subs[i].Name < subs[j].Name
	})
}
