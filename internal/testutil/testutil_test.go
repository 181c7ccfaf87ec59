package testutil_test

import (
	"testing"

	"subtrack/internal/errors"
	"subtrack/internal/models"
	"subtrack/internal/testutil"
)

func TestSetupTestDB(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	var count int64
	for _, table := range []string{"users", "subscriptions", "ai_provider_configs", "alert_deliveries", "audit_logs"} {
		if err := db.Table(table).Count(&count).Error; err != nil {
			t.Errorf("table %q should exist after migration: %v", table, err)
		}
	}
}

func TestSetupTestDB_Isolated(t *testing.T) {
	first := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, first)
	second := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, second)

	testutil.CreateTestUser(t, first)

	var count int64
	second.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("expected isolated database, found %d users", count)
	}
}

func TestFixtures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	if user.ID == "" {
		t.Fatal("user should have an ID")
	}
	if user.IsAdmin {
		t.Error("regular fixture user should not be admin")
	}

	admin := testutil.CreateTestAdmin(t, db)
	if !admin.IsAdmin {
		t.Error("admin fixture should be admin")
	}

	sub := testutil.CreateTestSubscription(t, db, user.ID,
		testutil.WithCost("15.49"),
		testutil.WithCycle(models.BillingCycleYearly),
		testutil.WithStatus(models.SubscriptionStatusPaused),
	)
	if sub.Cost.String() != "15.49" {
		t.Errorf("expected cost 15.49, got %s", sub.Cost)
	}
	if sub.BillingCycle != models.BillingCycleYearly || sub.Status != models.SubscriptionStatusPaused {
		t.Errorf("options not applied: %+v", sub)
	}

	cfg := testutil.CreateTestProviderConfig(t, db, models.AIProviderOllama, true, "")
	if !cfg.Enabled || cfg.Kind != models.AIProviderOllama {
		t.Errorf("unexpected provider config %+v", cfg)
	}
}

func TestAssertAppError(t *testing.T) {
	err := errors.WithMessage(errors.ErrSubscriptionNotFound, "custom message")
	testutil.AssertAppError(t, err, "SUBSCRIPTION_NOT_FOUND", errors.ErrSubscriptionNotFound)
}

func TestAssertNoError(t *testing.T) {
	testutil.AssertNoError(t, nil)
}
