package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"subtrack/internal/billing"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
	"subtrack/internal/pagination"
	"subtrack/internal/services"
	"subtrack/internal/validator"
)

// SubscriptionHandler handles subscription and dashboard requests.
type SubscriptionHandler struct {
	subscriptionService services.SubscriptionServicer
	auditService        services.AuditServicer
	now                 func() time.Time
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subscriptionService services.SubscriptionServicer, auditService services.AuditServicer) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService, auditService: auditService, now: time.Now}
}

// CreateSubscriptionRequest represents the request payload for creating a subscription
type CreateSubscriptionRequest struct {
	Name             string           `json:"name" binding:"required,min=1,max=100"`
	Cost             *decimal.Decimal `json:"cost" binding:"required"`
	Currency         string           `json:"currency" binding:"omitempty,iso4217"`
	BillingCycle     string           `json:"billing_cycle" binding:"required,billing_cycle"`
	NextRenewalDate  string           `json:"next_renewal_date" binding:"required,civil_date"`
	Category         string           `json:"category" binding:"max=50"`
	AlternativeNotes string           `json:"alternative_notes" binding:"max=2000"`
	Status           string           `json:"status" binding:"omitempty,subscription_status"`
}

// UpdateSubscriptionRequest represents the request payload for updating a subscription.
// Omitted fields are left unchanged.
type UpdateSubscriptionRequest struct {
	Name             *string          `json:"name" binding:"omitempty,min=1,max=100"`
	Cost             *decimal.Decimal `json:"cost"`
	Currency         *string          `json:"currency" binding:"omitempty,iso4217"`
	BillingCycle     *string          `json:"billing_cycle" binding:"omitempty,billing_cycle"`
	NextRenewalDate  *string          `json:"next_renewal_date" binding:"omitempty,civil_date"`
	Category         *string          `json:"category" binding:"omitempty,max=50"`
	AlternativeNotes *string          `json:"alternative_notes" binding:"omitempty,max=2000"`
	Status           *string          `json:"status" binding:"omitempty,subscription_status"`
}

// SubscriptionListQuery holds the list filters.
type SubscriptionListQuery struct {
	Status   string `form:"status" binding:"omitempty,subscription_status"`
	Category string `form:"category" binding:"max=50"`
	Query    string `form:"q" binding:"max=100"`
}

// SubscriptionResponse represents a subscription in the response
type SubscriptionResponse struct {
	ID               string                    `json:"id"`
	Name             string                    `json:"name"`
	Cost             decimal.Decimal           `json:"cost"`
	Currency         string                    `json:"currency"`
	CostDisplay      string                    `json:"cost_display"`
	BillingCycle     models.BillingCycle       `json:"billing_cycle"`
	MonthlyCost      decimal.Decimal           `json:"monthly_cost"`
	NextRenewalDate  string                    `json:"next_renewal_date"`
	Category         string                    `json:"category"`
	AlternativeNotes string                    `json:"alternative_notes"`
	Status           models.SubscriptionStatus `json:"status"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// DashboardResponse represents the dashboard summary
type DashboardResponse struct {
	ActiveCount      int                      `json:"active_count"`
	TotalCount       int                      `json:"total_count"`
	Totals           []services.CurrencyTotal `json:"totals"`
	ByCategory       []services.CategorySpend `json:"by_category"`
	UpcomingRenewals []SubscriptionResponse   `json:"upcoming_renewals"`
}

func toSubscriptionResponse(s *models.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:               s.ID,
		Name:             s.Name,
		Cost:             s.Cost,
		Currency:         s.Currency,
		CostDisplay:      billing.FormatAmount(s.Cost, s.Currency),
		BillingCycle:     s.BillingCycle,
		MonthlyCost:      billing.MonthlyEquivalent(s.Cost, s.BillingCycle),
		NextRenewalDate:  s.NextRenewalDate.Format(validator.DateLayout),
		Category:         s.Category,
		AlternativeNotes: s.AlternativeNotes,
		Status:           s.Status,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toSubscriptionResponses(subs []models.Subscription) []SubscriptionResponse {
	out := make([]SubscriptionResponse, len(subs))
	for i := range subs {
		out[i] = toSubscriptionResponse(&subs[i])
	}
	return out
}

// parseCivilDate parses a YYYY-MM-DD date already checked by the civil_date tag.
func parseCivilDate(s string) (time.Time, error) {
	d, err := time.Parse(validator.DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidInput, "dates must use YYYY-MM-DD")
	}
	return d, nil
}

// CreateSubscription handles the creation of a new subscription
// @Summary     Create a subscription
// @Description Track a new recurring charge. The next renewal date cannot be in the past.
// @Tags        subscriptions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateSubscriptionRequest true "Subscription details"
// @Success     201 {object} SubscriptionResponse "Subscription created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions [post]
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}
	renewal, err := parseCivilDate(req.NextRenewalDate)
	if err != nil {
		respondWithError(c, err)
		return
	}

	sub, err := h.subscriptionService.CreateSubscription(userID, services.SubscriptionInput{
		Name:             req.Name,
		Cost:             *req.Cost,
		Currency:         req.Currency,
		BillingCycle:     models.BillingCycle(req.BillingCycle),
		NextRenewalDate:  renewal,
		Category:         req.Category,
		AlternativeNotes: req.AlternativeNotes,
		Status:           models.SubscriptionStatus(req.Status),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(userID, services.AuditCreateSubscription, "subscription", sub.ID, c.ClientIP(),
		map[string]interface{}{"name": sub.Name, "cost": sub.Cost.String(), "currency": sub.Currency, "billing_cycle": sub.BillingCycle})

	c.JSON(http.StatusCreated, gin.H{"subscription": toSubscriptionResponse(sub)})
}

// GetSubscriptions handles listing the user's subscriptions
// @Summary     List subscriptions
// @Description Get a paginated list of subscriptions ordered by next renewal date. A search query ranks by fuzzy name match.
// @Tags        subscriptions
// @Produce     json
// @Security    BearerAuth
// @Param       status    query string false "Filter by status (active, paused, cancelled)"
// @Param       category  query string false "Filter by category"
// @Param       q         query string false "Fuzzy name search"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[SubscriptionResponse] "Paginated subscriptions"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions [get]
func (h *SubscriptionHandler) GetSubscriptions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, bindError(err))
		return
	}
	var query SubscriptionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	filter := services.SubscriptionFilter{Query: query.Query}
	if query.Status != "" {
		status := models.SubscriptionStatus(query.Status)
		filter.Status = &status
	}
	if query.Category != "" {
		filter.Category = &query.Category
	}

	result, err := h.subscriptionService.GetUserSubscriptions(userID, page, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pagination.NewPageResponse(
		toSubscriptionResponses(result.Data), result.Page, result.PageSize, result.TotalItems))
}

// GetSubscriptionByID handles retrieving a single subscription
// @Summary     Get subscription by ID
// @Description Get a subscription owned by the authenticated user
// @Tags        subscriptions
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Subscription ID"
// @Success     200 {object} SubscriptionResponse "Subscription"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Subscription not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions/{id} [get]
func (h *SubscriptionHandler) GetSubscriptionByID(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	subID, err := parsePathID(c, "id", apperrors.ErrSubscriptionNotFound)
	if err != nil {
		respondWithError(c, err)
		return
	}

	sub, err := h.subscriptionService.GetSubscriptionByID(userID, subID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": toSubscriptionResponse(sub)})
}

// UpdateSubscription handles updating a subscription
// @Summary     Update subscription
// @Description Update the given fields of a subscription; omitted fields are unchanged
// @Tags        subscriptions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                    true "Subscription ID"
// @Param       request body UpdateSubscriptionRequest true "Fields to change"
// @Success     200 {object} SubscriptionResponse "Updated subscription"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Subscription not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions/{id} [put]
func (h *SubscriptionHandler) UpdateSubscription(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	subID, err := parsePathID(c, "id", apperrors.ErrSubscriptionNotFound)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	upd := services.SubscriptionUpdate{
		Name:             req.Name,
		Cost:             req.Cost,
		Currency:         req.Currency,
		Category:         req.Category,
		AlternativeNotes: req.AlternativeNotes,
	}
	changes := make(map[string]interface{})
	if req.BillingCycle != nil {
		cycle := models.BillingCycle(*req.BillingCycle)
		upd.BillingCycle = &cycle
		changes["billing_cycle"] = cycle
	}
	if req.Status != nil {
		status := models.SubscriptionStatus(*req.Status)
		upd.Status = &status
		changes["status"] = status
	}
	if req.NextRenewalDate != nil {
		renewal, err := parseCivilDate(*req.NextRenewalDate)
		if err != nil {
			respondWithError(c, err)
			return
		}
		upd.NextRenewalDate = &renewal
		changes["next_renewal_date"] = *req.NextRenewalDate
	}
	if req.Name != nil {
		changes["name"] = *req.Name
	}
	if req.Cost != nil {
		changes["cost"] = req.Cost.String()
	}
	if req.Currency != nil {
		changes["currency"] = *req.Currency
	}

	sub, err := h.subscriptionService.UpdateSubscription(userID, subID, upd)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(userID, services.AuditUpdateSubscription, "subscription", sub.ID, c.ClientIP(), changes)

	c.JSON(http.StatusOK, gin.H{"subscription": toSubscriptionResponse(sub)})
}

// DeleteSubscription handles deleting a subscription
// @Summary     Delete subscription
// @Description Delete a subscription owned by the authenticated user
// @Tags        subscriptions
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Subscription ID"
// @Success     200 {object} map[string]string "Subscription deleted"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Subscription not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions/{id} [delete]
func (h *SubscriptionHandler) DeleteSubscription(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	subID, err := parsePathID(c, "id", apperrors.ErrSubscriptionNotFound)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.subscriptionService.DeleteSubscription(userID, subID); err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(userID, services.AuditDeleteSubscription, "subscription", subID, c.ClientIP(), nil)

	c.JSON(http.StatusOK, gin.H{"message": "Subscription deleted successfully"})
}

// ExportSubscriptions handles the CSV export
// @Summary     Export subscriptions
// @Description Download all of the user's subscriptions as CSV
// @Tags        subscriptions
// @Produce     text/csv
// @Security    BearerAuth
// @Success     200 {file} file "CSV file"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /subscriptions/export [get]
func (h *SubscriptionHandler) ExportSubscriptions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	data, err := h.subscriptionService.ExportCSV(userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("subscriptions-%s.csv", h.now().UTC().Format(validator.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// GetDashboard handles the dashboard summary
// @Summary     Get dashboard
// @Description Active count, monthly and yearly cost per currency, spend by category and renewals due within 7 days
// @Tags        dashboard
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} DashboardResponse "Dashboard"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /dashboard [get]
func (h *SubscriptionHandler) GetDashboard(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	dash, err := h.subscriptionService.GetDashboard(userID, h.now())
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, DashboardResponse{
		ActiveCount:      dash.ActiveCount,
		TotalCount:       dash.TotalCount,
		Totals:           dash.Totals,
		ByCategory:       dash.ByCategory,
		UpcomingRenewals: toSubscriptionResponses(dash.UpcomingRenewals),
	})
}
