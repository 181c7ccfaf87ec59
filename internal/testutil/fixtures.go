package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"subtrack/internal/models"
)

// TestPassword is the plaintext password of every fixture user.
const TestPassword = "password123"

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// Date returns the civil date y-m-d at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateTestUser creates a regular user with a hashed password and unique email.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	n := nextID()
	return createUser(t, db, fmt.Sprintf("user%d", n), fmt.Sprintf("user%d@test.com", n), false)
}

// CreateTestUserWithEmail creates a regular user with the given email.
func CreateTestUserWithEmail(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	return createUser(t, db, fmt.Sprintf("user%d", nextID()), email, false)
}

// CreateTestAdmin creates an administrator.
func CreateTestAdmin(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	n := nextID()
	return createUser(t, db, fmt.Sprintf("admin%d", n), fmt.Sprintf("admin%d@test.com", n), true)
}

func createUser(t *testing.T, db *gorm.DB, username, email string, admin bool) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: string(hash),
		IsAdmin:  admin,
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// SubscriptionOption customises a fixture subscription.
type SubscriptionOption func(*models.Subscription)

// WithCost sets the cost from a decimal string such as "9.99".
func WithCost(cost string) SubscriptionOption {
	return func(s *models.Subscription) { s.Cost = decimal.RequireFromString(cost) }
}

// WithCycle sets the billing cycle.
func WithCycle(c models.BillingCycle) SubscriptionOption {
	return func(s *models.Subscription) { s.BillingCycle = c }
}

// WithRenewal sets the next renewal date.
func WithRenewal(d time.Time) SubscriptionOption {
	return func(s *models.Subscription) { s.NextRenewalDate = d }
}

// WithStatus sets the status.
func WithStatus(st models.SubscriptionStatus) SubscriptionOption {
	return func(s *models.Subscription) { s.Status = st }
}

// WithName sets the name.
func WithName(name string) SubscriptionOption {
	return func(s *models.Subscription) { s.Name = name }
}

// WithCategory sets the category.
func WithCategory(c string) SubscriptionOption {
	return func(s *models.Subscription) { s.Category = c }
}

// WithCurrency sets the currency code.
func WithCurrency(code string) SubscriptionOption {
	return func(s *models.Subscription) { s.Currency = code }
}

// CreateTestSubscription creates an active monthly USD subscription renewing
// in ten days, adjusted by opts.
func CreateTestSubscription(t *testing.T, db *gorm.DB, userID string, opts ...SubscriptionOption) *models.Subscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &models.Subscription{
		UserID:          userID,
		Name:            fmt.Sprintf("Test Subscription %d", nextID()),
		Cost:            decimal.RequireFromString("9.99"),
		Currency:        "USD",
		BillingCycle:    models.BillingCycleMonthly,
		NextRenewalDate: Date(now.Year(), now.Month(), now.Day()).AddDate(0, 0, 10),
		Category:        "Streaming",
		Status:          models.SubscriptionStatusActive,
	}
	for _, opt := range opts {
		opt(sub)
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to create test subscription: %v", err)
	}
	return sub
}

// CreateTestProviderConfig stores a provider config row. sealedKey must
// already be encrypted; pass "" for none.
func CreateTestProviderConfig(t *testing.T, db *gorm.DB, kind models.AIProviderKind, enabled bool, sealedKey string) *models.AIProviderConfig {
	t.Helper()

	cfg := &models.AIProviderConfig{
		Kind:                   kind,
		APIKeyEncrypted:        sealedKey,
		Enabled:                enabled,
		FeatureAlternatives:    true,
		FeatureChat:            true,
		FeatureAnalysis:        true,
		FeatureRecommendations: true,
	}
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("failed to create test provider config: %v", err)
	}
	return cfg
}
