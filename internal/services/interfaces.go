package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"subtrack/internal/models"
	"subtrack/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	SetupRequired() (bool, error)
	SetupAdmin(username, email, password string) (*models.User, error)
	CreateUser(username, email, password string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(email, password string) (*models.User, error)
	StoreRefreshTokenHash(userID, tokenHash string) error
	GetRefreshTokenHash(userID string) (string, error)
	IsAdmin(userID string) (bool, error)
}

// SubscriptionInput carries the fields for a new subscription.
type SubscriptionInput struct {
	Name             string
	Cost             decimal.Decimal
	Currency         string
	BillingCycle     models.BillingCycle
	NextRenewalDate  time.Time
	Category         string
	AlternativeNotes string
	Status           models.SubscriptionStatus
}

// SubscriptionUpdate carries optional field changes; nil means unchanged.
type SubscriptionUpdate struct {
	Name             *string
	Cost             *decimal.Decimal
	Currency         *string
	BillingCycle     *models.BillingCycle
	NextRenewalDate  *time.Time
	Category         *string
	AlternativeNotes *string
	Status           *models.SubscriptionStatus
}

// SubscriptionFilter holds optional filter parameters for listing subscriptions.
type SubscriptionFilter struct {
	Status   *models.SubscriptionStatus
	Category *string
	Query    string // fuzzy match on name
}

// CurrencyTotal is the spend for one currency.
type CurrencyTotal struct {
	Currency    string          `json:"currency"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
	YearlyCost  decimal.Decimal `json:"yearly_cost"`
	Display     string          `json:"display"`
}

// CategorySpend is the monthly-equivalent spend of one category in one currency.
type CategorySpend struct {
	Category    string          `json:"category"`
	Currency    string          `json:"currency"`
	Count       int             `json:"count"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
}

// Dashboard summarises a user's active subscriptions.
type Dashboard struct {
	ActiveCount      int                   `json:"active_count"`
	TotalCount       int                   `json:"total_count"`
	Totals           []CurrencyTotal       `json:"totals"`
	ByCategory       []CategorySpend       `json:"by_category"`
	UpcomingRenewals []models.Subscription `json:"upcoming_renewals"`
}

// SubscriptionServicer defines the contract for the subscription record store.
type SubscriptionServicer interface {
	CreateSubscription(userID string, in SubscriptionInput) (*models.Subscription, error)
	GetUserSubscriptions(userID string, page pagination.PageRequest, filter SubscriptionFilter) (*pagination.PageResponse[models.Subscription], error)
	ListSubscriptions(userID string, activeOnly bool) ([]models.Subscription, error)
	GetSubscriptionByID(userID, subscriptionID string) (*models.Subscription, error)
	UpdateSubscription(userID, subscriptionID string, upd SubscriptionUpdate) (*models.Subscription, error)
	DeleteSubscription(userID, subscriptionID string) error
	GetDashboard(userID string, now time.Time) (*Dashboard, error)
	ExportCSV(userID string) ([]byte, error)
	RollOverRenewals(ctx context.Context, today time.Time) (int, error)
}

// FeatureFlags reports which AI features are usable right now.
type FeatureFlags struct {
	Alternatives    bool `json:"alternatives"`
	Chat            bool `json:"chat"`
	Analysis        bool `json:"analysis"`
	Recommendations bool `json:"recommendations"`
}

// ProviderSettingsInput is an admin change to one provider's settings.
// Nil fields are left unchanged; an empty APIKey clears the stored key.
type ProviderSettingsInput struct {
	APIKey                 *string
	BaseURL                *string
	Model                  *string
	Enabled                *bool
	FeatureAlternatives    *bool
	FeatureChat            *bool
	FeatureAnalysis        *bool
	FeatureRecommendations *bool
}

// ProviderView is the admin-facing, redacted view of a provider config.
type ProviderView struct {
	Kind                   models.AIProviderKind `json:"kind"`
	Enabled                bool                  `json:"enabled"`
	HasAPIKey              bool                  `json:"has_api_key"`
	APIKey                 string                `json:"api_key"`
	RequiresAPIKey         bool                  `json:"requires_api_key"`
	BaseURL                string                `json:"base_url"`
	Model                  string                `json:"model"`
	DefaultModel           string                `json:"default_model"`
	FeatureAlternatives    bool                  `json:"feature_alternatives"`
	FeatureChat            bool                  `json:"feature_chat"`
	FeatureAnalysis        bool                  `json:"feature_analysis"`
	FeatureRecommendations bool                  `json:"feature_recommendations"`
	UpdatedAt              *time.Time            `json:"updated_at,omitempty"`
}

// AISettingsServicer defines the contract for admin-managed AI provider settings.
type AISettingsServicer interface {
	ListProviders() ([]ProviderView, error)
	UpdateProvider(adminID string, kind models.AIProviderKind, in ProviderSettingsInput) (*ProviderView, error)
	Snapshot() (AISnapshot, error)
	ProviderSnapshot(kind models.AIProviderKind) (AISnapshot, error)
}

// Alternative is a cheaper or better option for a subscription.
type Alternative struct {
	Name        Text `json:"name"`
	Description Text `json:"description"`
	Price       Text `json:"price"`
	Differences Text `json:"differences"`
}

// Insight is one observation about a user's spending.
type Insight struct {
	Title       Text `json:"title"`
	Description Text `json:"description"`
}

// Recommendation is one suggested action to reduce spend.
type Recommendation struct {
	Title       Text `json:"title"`
	Description Text `json:"description"`
	Savings     Text `json:"savings"`
	Priority    Text `json:"priority"`
}

// ChatMessage is one prior turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required,max=4000"`
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

// ConnectionResult reports a successful provider round trip.
type ConnectionResult struct {
	Provider  models.AIProviderKind `json:"provider"`
	Model     string                `json:"model"`
	LatencyMS int64                 `json:"latency_ms"`
}

// AIServicer defines the contract for the AI feature orchestrator.
type AIServicer interface {
	Features() (FeatureFlags, error)
	FindAlternatives(ctx context.Context, userID, subscriptionID string) ([]Alternative, error)
	AnalyzeSpending(ctx context.Context, userID string) ([]Insight, error)
	Recommend(ctx context.Context, userID string) ([]Recommendation, error)
	Chat(ctx context.Context, userID, message string, history []ChatMessage) (*ChatReply, error)
	TestConnection(ctx context.Context, kind models.AIProviderKind) (*ConnectionResult, error)
	ListModels(ctx context.Context, kind models.AIProviderKind) ([]string, error)
}

// UpcomingAlert is a renewal inside the alert window.
type UpcomingAlert struct {
	SubscriptionID string              `json:"subscription_id"`
	UserID         string              `json:"user_id"`
	Name           string              `json:"name"`
	Cost           decimal.Decimal     `json:"cost"`
	Currency       string              `json:"currency"`
	BillingCycle   models.BillingCycle `json:"billing_cycle"`
	DueDate        time.Time           `json:"due_date"`
	DaysUntil      int                 `json:"days_until"`
}

// DispatchResult summarises one alert dispatch run.
type DispatchResult struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// AlertServicer defines the contract for renewal alert evaluation and delivery.
type AlertServicer interface {
	UpcomingForUser(userID string, now time.Time) ([]UpcomingAlert, error)
	DueAlerts(now time.Time) ([]UpcomingAlert, error)
	Dispatch(ctx context.Context, now time.Time) (*DispatchResult, error)
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(userID, action, resourceType, resourceID, ipAddress string, changes map[string]interface{})
}
