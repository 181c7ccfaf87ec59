package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is how often a subscription renews.
type BillingCycle string

const (
	BillingCycleWeekly  BillingCycle = "weekly"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Valid reports whether c is one of the supported cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case BillingCycleWeekly, BillingCycleMonthly, BillingCycleYearly:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusPaused, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// Subscription is a recurring charge tracked for a single user.
// NextRenewalDate is stored as a civil date (UTC midnight).
type Subscription struct {
	Base
	UserID           string             `gorm:"type:uuid;not null;index" json:"user_id"`
	Name             string             `gorm:"size:100;not null" json:"name"`
	Cost             decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"cost"`
	Currency         string             `gorm:"size:3;not null;default:'USD'" json:"currency"`
	BillingCycle     BillingCycle       `gorm:"size:10;not null" json:"billing_cycle"`
	NextRenewalDate  time.Time          `gorm:"type:date;not null;index" json:"next_renewal_date"`
	Category         string             `gorm:"size:50" json:"category"`
	AlternativeNotes string             `gorm:"type:text" json:"alternative_notes"`
	Status           SubscriptionStatus `gorm:"size:10;not null;default:'active';index" json:"status"`
}

// IsActive reports whether the subscription is currently billed.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}
