package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"subtrack/internal/billing"
	"subtrack/internal/config"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/logger"
	"subtrack/internal/models"
	"subtrack/internal/notify"
	"subtrack/internal/validator"
)

const alertBatchSize = 200

// alertService evaluates renewal alerts and delivers them.
type alertService struct {
	db       *gorm.DB
	notifier notify.Notifier
	policy   string
}

// NewAlertService creates a new AlertServicer. policy is config.AlertDedupOnce
// or config.AlertDedupDaily; anything else is treated as daily.
func NewAlertService(db *gorm.DB, notifier notify.Notifier, policy string) AlertServicer {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &alertService{db: db, notifier: notifier, policy: policy}
}

func toUpcoming(subs []models.Subscription, now time.Time) []UpcomingAlert {
	out := make([]UpcomingAlert, 0, len(subs))
	for _, s := range subs {
		out = append(out, UpcomingAlert{
			SubscriptionID: s.ID,
			UserID:         s.UserID,
			Name:           s.Name,
			Cost:           s.Cost,
			Currency:       s.Currency,
			BillingCycle:   s.BillingCycle,
			DueDate:        billing.Civil(s.NextRenewalDate),
			DaysUntil:      billing.DaysUntil(s.NextRenewalDate, now),
		})
	}
	return out
}

// UpcomingForUser returns the user's renewals inside the alert window.
func (s *alertService) UpcomingForUser(userID string, now time.Time) ([]UpcomingAlert, error) {
	var subs []models.Subscription
	if err := s.db.Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Find(&subs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return toUpcoming(billing.FilterDue(subs, now), now), nil
}

// DueAlerts returns every user's renewals inside the alert window.
func (s *alertService) DueAlerts(now time.Time) ([]UpcomingAlert, error) {
	var (
		batch []models.Subscription
		due   []models.Subscription
	)
	res := s.db.Where("status = ?", models.SubscriptionStatusActive).
		FindInBatches(&batch, alertBatchSize, func(_ *gorm.DB, _ int) error {
			due = append(due, billing.FilterDue(batch, now)...)
			return nil
		})
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	billing.SortForDisplay(due)
	return toUpcoming(due, now), nil
}

// Dispatch sends every due alert that the dedup policy has not already
// covered and records each delivery.
func (s *alertService) Dispatch(ctx context.Context, now time.Time) (*DispatchResult, error) {
	today := billing.Civil(now)
	log := logger.Named("alerts")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	due, err := s.DueAlerts(now)
	if err != nil {
		return nil, err
	}
	result := &DispatchResult{Due: len(due)}
	if len(due) == 0 {
		log.Infow("no renewal alerts due", "today", today.Format(validator.DateLayout))
		return result, nil
	}

	subIDs := make([]string, 0, len(due))
	userIDs := make([]string, 0, len(due))
	for _, a := range due {
		subIDs = append(subIDs, a.SubscriptionID)
		userIDs = append(userIDs, a.UserID)
	}

	var deliveries []models.AlertDelivery
	if err := s.db.WithContext(ctx).Where("subscription_id IN ?", subIDs).Find(&deliveries).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	usersByID := make(map[string]*models.User, len(users))
	for i := range users {
		usersByID[users[i].ID] = &users[i]
	}

	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if s.alreadySent(deliveries, a, today) {
			result.Skipped++
			continue
		}
		user, ok := usersByID[a.UserID]
		if !ok || !user.IsActive {
			result.Skipped++
			continue
		}

		alert := notify.Alert{
			To:               user.Email,
			Username:         user.Username,
			SubscriptionName: a.Name,
			Amount:           billing.FormatAmount(a.Cost, a.Currency),
			Cycle:            cycleUnit(a.BillingCycle),
			DueDate:          a.DueDate,
			DaysUntil:        a.DaysUntil,
		}
		if err := s.notifier.Notify(ctx, alert); err != nil {
			result.Failed++
			log.Warnw("alert delivery failed", "subscription_id", a.SubscriptionID, "channel", s.notifier.Channel(), "error", err)
			continue
		}

		delivery := models.AlertDelivery{
			SubscriptionID: a.SubscriptionID,
			UserID:         a.UserID,
			DueDate:        a.DueDate,
			SentOn:         today,
			Channel:        s.notifier.Channel(),
		}
		if err := s.db.WithContext(ctx).Create(&delivery).Error; err != nil {
			return result, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		deliveries = append(deliveries, delivery)
		result.Sent++
	}

	log.Infow("renewal alerts dispatched",
		"due", result.Due,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"policy", s.policy,
	)
	return result, nil
}

// alreadySent applies the dedup policy: once per due date, or once per day
// until the renewal.
func (s *alertService) alreadySent(deliveries []models.AlertDelivery, a UpcomingAlert, today time.Time) bool {
	for _, d := range deliveries {
		if d.SubscriptionID != a.SubscriptionID || !billing.Civil(d.DueDate).Equal(a.DueDate) {
			continue
		}
		if s.policy == config.AlertDedupOnce || billing.Civil(d.SentOn).Equal(today) {
			return true
		}
	}
	return false
}
