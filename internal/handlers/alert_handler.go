package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/scheduler"
	"subtrack/internal/services"
)

// AlertRunner runs the daily renewal jobs on demand.
type AlertRunner interface {
	RunNow(ctx context.Context) (*scheduler.RunResult, error)
}

// AlertHandler handles renewal alert requests.
type AlertHandler struct {
	alertService services.AlertServicer
	runner       AlertRunner
	auditService services.AuditServicer
	now          func() time.Time
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(alertService services.AlertServicer, runner AlertRunner, auditService services.AuditServicer) *AlertHandler {
	return &AlertHandler{alertService: alertService, runner: runner, auditService: auditService, now: time.Now}
}

// AlertListResponse wraps a list of renewal alerts.
type AlertListResponse struct {
	Alerts []services.UpcomingAlert `json:"alerts"`
	Count  int                      `json:"count"`
}

func newAlertList(alerts []services.UpcomingAlert) AlertListResponse {
	if alerts == nil {
		alerts = []services.UpcomingAlert{}
	}
	return AlertListResponse{Alerts: alerts, Count: len(alerts)}
}

// GetUpcoming returns the user's renewals due within the alert window
// @Summary     Get upcoming renewal alerts
// @Description Active subscriptions renewing within the next 7 days, soonest first
// @Tags        alerts
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} AlertListResponse "Upcoming renewals"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /alerts/upcoming [get]
func (h *AlertHandler) GetUpcoming(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	alerts, err := h.alertService.UpcomingForUser(userID, h.now())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAlertList(alerts))
}

// GetDue returns every user's due alerts for an external delivery pipeline
// @Summary     Get due renewal alerts
// @Description All alerts due today across users, for an external notification pipeline
// @Tags        pipeline
// @Produce     json
// @Security    ApiKeyAuth
// @Success     200 {object} AlertListResponse "Due alerts"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     503 {object} ErrorResponse "Pipeline not configured"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /pipeline/alerts/due [get]
func (h *AlertHandler) GetDue(c *gin.Context) {
	alerts, err := h.alertService.DueAlerts(h.now())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAlertList(alerts))
}

// RunAlerts triggers the renewal rollover and alert dispatch immediately
// @Summary     Run renewal jobs
// @Description Roll past-due renewals forward and dispatch due alerts now
// @Tags        admin
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} scheduler.RunResult "Run summary"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Administrator access required"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /admin/alerts/run [post]
func (h *AlertHandler) RunAlerts(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.runner.RunNow(c.Request.Context())
	if err != nil {
		respondWithError(c, apperrors.Wrap(apperrors.ErrInternalServer, err))
		return
	}

	changes := map[string]interface{}{"rolled_over": result.RolledOver}
	if result.Alerts != nil {
		changes["sent"] = result.Alerts.Sent
		changes["failed"] = result.Alerts.Failed
	}
	h.auditService.Log(userID, services.AuditRunAlerts, "alerts", "", c.ClientIP(), changes)

	c.JSON(http.StatusOK, result)
}
