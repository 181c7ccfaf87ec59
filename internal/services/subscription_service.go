package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"subtrack/internal/billing"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/logger"
	"subtrack/internal/models"
	"subtrack/internal/pagination"
	"subtrack/internal/validator"
)

const (
	defaultCurrency   = "USD"
	uncategorized     = "Uncategorized"
	rolloverBatchSize = 200
)

// subscriptionService handles the subscription record store.
type subscriptionService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSubscriptionService creates a new SubscriptionServicer.
func NewSubscriptionService(db *gorm.DB) SubscriptionServicer {
	return &subscriptionService{db: db, now: time.Now}
}

func (s *subscriptionService) today() time.Time {
	return billing.Civil(s.now())
}

// CreateSubscription validates and stores a new subscription for the user.
func (s *subscriptionService) CreateSubscription(userID string, in SubscriptionInput) (*models.Subscription, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "name is required")
	}
	if in.Cost.IsNegative() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "cost cannot be negative")
	}
	currency := in.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	if !validator.IsCurrency(currency) {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unsupported currency "+currency)
	}
	if !in.BillingCycle.Valid() {
		return nil, apperrors.ErrInvalidCycle
	}
	status := in.Status
	if status == "" {
		status = models.SubscriptionStatusActive
	}
	if !status.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown status "+string(status))
	}
	renewal := billing.Civil(in.NextRenewalDate)
	if renewal.Before(s.today()) {
		return nil, apperrors.ErrInvalidRenewalDate
	}

	sub := &models.Subscription{
		UserID:           userID,
		Name:             name,
		Cost:             in.Cost.Round(2),
		Currency:         currency,
		BillingCycle:     in.BillingCycle,
		NextRenewalDate:  renewal,
		Category:         strings.TrimSpace(in.Category),
		AlternativeNotes: in.AlternativeNotes,
		Status:           status,
	}
	if err := s.db.Create(sub).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return sub, nil
}

// GetUserSubscriptions returns a page of the user's subscriptions ordered by
// next renewal date. A non-empty Query ranks results by fuzzy name match instead.
func (s *subscriptionService) GetUserSubscriptions(
	userID string,
	page pagination.PageRequest,
	filter SubscriptionFilter,
) (*pagination.PageResponse[models.Subscription], error) {
	page.Defaults()

	base := s.db.Model(&models.Subscription{}).Where("user_id = ?", userID)
	if filter.Status != nil {
		base = base.Where("status = ?", *filter.Status)
	}
	if filter.Category != nil {
		base = base.Where("category = ?", *filter.Category)
	}

	if q := strings.TrimSpace(filter.Query); q != "" {
		var all []models.Subscription
		if err := base.Order("next_renewal_date ASC, name ASC").Find(&all).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		result := pagination.Slice(rankByName(all, q), page)
		return &result, nil
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var subs []models.Subscription
	if err := base.Order("next_renewal_date ASC, name ASC").Scopes(pagination.Paginate(page)).Find(&subs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(subs, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// rankByName keeps subscriptions whose name fuzzily contains q, closest first.
func rankByName(subs []models.Subscription, q string) []models.Subscription {
	names := make([]string, len(subs))
	for i := range subs {
		names[i] = subs[i].Name
	}
	ranks := fuzzy.RankFindFold(q, names)
	sort.Stable(ranks)

	out := make([]models.Subscription, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, subs[r.OriginalIndex])
	}
	return out
}

// ListSubscriptions returns all of the user's subscriptions in display order.
func (s *subscriptionService) ListSubscriptions(userID string, activeOnly bool) ([]models.Subscription, error) {
	q := s.db.Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("status = ?", models.SubscriptionStatusActive)
	}
	var subs []models.Subscription
	if err := q.Order("next_renewal_date ASC, name ASC").Find(&subs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return subs, nil
}

// GetSubscriptionByID returns a subscription if it belongs to the user.
func (s *subscriptionService) GetSubscriptionByID(userID, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Where("id = ? AND user_id = ?", subscriptionID, userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSubscriptionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &sub, nil
}

// UpdateSubscription applies the non-nil fields of upd.
func (s *subscriptionService) UpdateSubscription(userID, subscriptionID string, upd SubscriptionUpdate) (*models.Subscription, error) {
	sub, err := s.GetSubscriptionByID(userID, subscriptionID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "name cannot be empty")
		}
		updates["name"] = name
	}
	if upd.Cost != nil {
		if upd.Cost.IsNegative() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "cost cannot be negative")
		}
		updates["cost"] = upd.Cost.Round(2)
	}
	if upd.Currency != nil {
		if !validator.IsCurrency(*upd.Currency) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unsupported currency "+*upd.Currency)
		}
		updates["currency"] = *upd.Currency
	}
	if upd.BillingCycle != nil {
		if !upd.BillingCycle.Valid() {
			return nil, apperrors.ErrInvalidCycle
		}
		updates["billing_cycle"] = *upd.BillingCycle
	}
	if upd.NextRenewalDate != nil {
		renewal := billing.Civil(*upd.NextRenewalDate)
		if renewal.Before(s.today()) {
			return nil, apperrors.ErrInvalidRenewalDate
		}
		updates["next_renewal_date"] = renewal
	}
	if upd.Category != nil {
		updates["category"] = strings.TrimSpace(*upd.Category)
	}
	if upd.AlternativeNotes != nil {
		updates["alternative_notes"] = *upd.AlternativeNotes
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown status "+string(*upd.Status))
		}
		updates["status"] = *upd.Status
	}

	if len(updates) > 0 {
		if err := s.db.Model(sub).Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}

	return s.GetSubscriptionByID(userID, subscriptionID)
}

// DeleteSubscription soft-deletes a subscription.
func (s *subscriptionService) DeleteSubscription(userID, subscriptionID string) error {
	sub, err := s.GetSubscriptionByID(userID, subscriptionID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(sub).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// GetDashboard summarises spend per currency and category plus upcoming renewals.
// Amounts in different currencies are never summed together.
func (s *subscriptionService) GetDashboard(userID string, now time.Time) (*Dashboard, error) {
	subs, err := s.ListSubscriptions(userID, false)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{TotalCount: len(subs)}
	totals := make(map[string]*CurrencyTotal)
	type catKey struct{ category, currency string }
	categories := make(map[catKey]*CategorySpend)

	for i := range subs {
		sub := &subs[i]
		if !sub.IsActive() {
			continue
		}
		dash.ActiveCount++

		monthly := billing.MonthlyEquivalent(sub.Cost, sub.BillingCycle)
		yearly := billing.YearlyEquivalent(sub.Cost, sub.BillingCycle)

		t, ok := totals[sub.Currency]
		if !ok {
			t = &CurrencyTotal{Currency: sub.Currency, MonthlyCost: decimal.Zero, YearlyCost: decimal.Zero}
			totals[sub.Currency] = t
		}
		t.MonthlyCost = t.MonthlyCost.Add(monthly)
		t.YearlyCost = t.YearlyCost.Add(yearly)

		category := sub.Category
		if category == "" {
			category = uncategorized
		}
		key := catKey{category, sub.Currency}
		c, ok := categories[key]
		if !ok {
			c = &CategorySpend{Category: category, Currency: sub.Currency, MonthlyCost: decimal.Zero}
			categories[key] = c
		}
		c.Count++
		c.MonthlyCost = c.MonthlyCost.Add(monthly)
	}

	dash.Totals = make([]CurrencyTotal, 0, len(totals))
	for _, t := range totals {
		t.Display = billing.FormatAmount(t.MonthlyCost, t.Currency) + "/month"
		dash.Totals = append(dash.Totals, *t)
	}
	sort.Slice(dash.Totals, func(i, j int) bool { return dash.Totals[i].Currency < dash.Totals[j].Currency })

	dash.ByCategory = make([]CategorySpend, 0, len(categories))
	for _, c := range categories {
		dash.ByCategory = append(dash.ByCategory, *c)
	}
	sort.Slice(dash.ByCategory, func(i, j int) bool {
		a, b := dash.ByCategory[i], dash.ByCategory[j]
		if !a.MonthlyCost.Equal(b.MonthlyCost) {
			return a.MonthlyCost.GreaterThan(b.MonthlyCost)
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Currency < b.Currency
	})

	dash.UpcomingRenewals = billing.FilterDue(subs, now)
	return dash, nil
}

// subscriptionCSV is the export row layout.
type subscriptionCSV struct {
	Name             string `csv:"name"`
	Cost             string `csv:"cost"`
	Currency         string `csv:"currency"`
	BillingCycle     string `csv:"billing_cycle"`
	NextRenewalDate  string `csv:"next_renewal_date"`
	Category         string `csv:"category"`
	Status           string `csv:"status"`
	MonthlyCost      string `csv:"monthly_cost"`
	AlternativeNotes string `csv:"alternative_notes"`
}

// ExportCSV renders all of the user's subscriptions as CSV with a header row.
func (s *subscriptionService) ExportCSV(userID string) ([]byte, error) {
	subs, err := s.ListSubscriptions(userID, false)
	if err != nil {
		return nil, err
	}

	rows := make([]*subscriptionCSV, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		rows = append(rows, &subscriptionCSV{
			Name:             sub.Name,
			Cost:             sub.Cost.StringFixed(2),
			Currency:         sub.Currency,
			BillingCycle:     string(sub.BillingCycle),
			NextRenewalDate:  sub.NextRenewalDate.Format(validator.DateLayout),
			Category:         sub.Category,
			Status:           string(sub.Status),
			MonthlyCost:      billing.MonthlyEquivalent(sub.Cost, sub.BillingCycle).StringFixed(2),
			AlternativeNotes: sub.AlternativeNotes,
		})
	}

	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return out, nil
}

// RollOverRenewals advances every active subscription whose renewal date has
// passed to its next date on or after today. It returns the number updated.
func (s *subscriptionService) RollOverRenewals(ctx context.Context, today time.Time) (int, error) {
	today = billing.Civil(today)
	log := logger.Named("rollover")

	var batch []models.Subscription
	updated := 0
	res := s.db.WithContext(ctx).
		Where("status = ?", models.SubscriptionStatusActive).
		FindInBatches(&batch, rolloverBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				sub := &batch[i]
				if !billing.Civil(sub.NextRenewalDate).Before(today) {
					continue
				}
				next, err := billing.RollForward(sub.NextRenewalDate, sub.BillingCycle, today)
				if err != nil {
					log.Warnw("skipping subscription with invalid cycle", "subscription_id", sub.ID, "cycle", sub.BillingCycle)
					continue
				}
				if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
					Where("id = ?", sub.ID).
					Update("next_renewal_date", next).Error; err != nil {
					return err
				}
				updated++
			}
			return ctx.Err()
		})
	if res.Error != nil {
		return updated, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}

	log.Infow("renewal rollover complete", "updated", updated, "today", today.Format(validator.DateLayout))
	return updated, nil
}
