package handlers

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
	"subtrack/internal/services"
)

// secretPattern matches bearer tokens and provider-style API keys.
var secretPattern = regexp.MustCompile(`(?i)(bearer\s+\S+|\bsk-[A-Za-z0-9_\-]+|\bkey=[^&\s]+)`)

// providerDiagnostic exposes the reason a provider call failed on admin
// routes. End-user routes only ever see the generic message.
func providerDiagnostic(err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Internal == nil {
		return err
	}
	switch appErr.Code {
	case apperrors.ErrProviderUnavailable.Code,
		apperrors.ErrProviderInvalidCredentials.Code,
		apperrors.ErrMalformedResponse.Code:
	default:
		return err
	}
	reason := secretPattern.ReplaceAllString(appErr.Internal.Error(), "[redacted]")
	return &apperrors.AppError{
		Code:       appErr.Code,
		Message:    "Provider check failed: " + reason,
		StatusCode: appErr.StatusCode,
		Internal:   appErr.Internal,
	}
}

// AdminHandler handles the AI provider settings endpoints.
type AdminHandler struct {
	settingsService services.AISettingsServicer
	aiService       services.AIServicer
	auditService    services.AuditServicer
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(settingsService services.AISettingsServicer, aiService services.AIServicer, auditService services.AuditServicer) *AdminHandler {
	return &AdminHandler{settingsService: settingsService, aiService: aiService, auditService: auditService}
}

// UpdateProviderRequest represents the request payload for changing a provider's settings.
// Omitted fields are left unchanged. An empty api_key clears the stored key.
type UpdateProviderRequest struct {
	APIKey                 *string `json:"api_key" binding:"omitempty,max=500"`
	BaseURL                *string `json:"base_url" binding:"omitempty,max=255"`
	Model                  *string `json:"model" binding:"omitempty,max=100"`
	Enabled                *bool   `json:"enabled"`
	FeatureAlternatives    *bool   `json:"feature_alternatives"`
	FeatureChat            *bool   `json:"feature_chat"`
	FeatureAnalysis        *bool   `json:"feature_analysis"`
	FeatureRecommendations *bool   `json:"feature_recommendations"`
}

// auditChanges lists what changed without ever recording the key itself.
func (r *UpdateProviderRequest) auditChanges() map[string]interface{} {
	changes := make(map[string]interface{})
	if r.APIKey != nil {
		if *r.APIKey == "" {
			changes["api_key"] = "cleared"
		} else {
			changes["api_key"] = "replaced"
		}
	}
	if r.BaseURL != nil {
		changes["base_url"] = *r.BaseURL
	}
	if r.Model != nil {
		changes["model"] = *r.Model
	}
	if r.Enabled != nil {
		changes["enabled"] = *r.Enabled
	}
	if r.FeatureAlternatives != nil {
		changes["feature_alternatives"] = *r.FeatureAlternatives
	}
	if r.FeatureChat != nil {
		changes["feature_chat"] = *r.FeatureChat
	}
	if r.FeatureAnalysis != nil {
		changes["feature_analysis"] = *r.FeatureAnalysis
	}
	if r.FeatureRecommendations != nil {
		changes["feature_recommendations"] = *r.FeatureRecommendations
	}
	return changes
}

// ListProviders returns every AI provider's settings
// @Summary     List AI providers
// @Description Settings for each supported AI provider. API keys are redacted.
// @Tags        admin
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} map[string][]services.ProviderView "Providers"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Administrator access required"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /admin/ai/providers [get]
func (h *AdminHandler) ListProviders(c *gin.Context) {
	providers, err := h.settingsService.ListProviders()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// UpdateProvider changes one AI provider's settings
// @Summary     Update AI provider
// @Description Change a provider's key, URL, model, enabled state or feature flags. Enabling a provider disables the others.
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       kind    path string                true "Provider (claude, openai, ollama)"
// @Param       request body UpdateProviderRequest true "Settings to change"
// @Success     200 {object} services.ProviderView "Updated provider"
// @Failure     400 {object} ErrorResponse "Invalid provider configuration"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Administrator access required"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /admin/ai/providers/{kind} [put]
func (h *AdminHandler) UpdateProvider(c *gin.Context) {
	adminID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	kind := models.AIProviderKind(c.Param("kind"))
	view, err := h.settingsService.UpdateProvider(adminID, kind, services.ProviderSettingsInput{
		APIKey:                 req.APIKey,
		BaseURL:                req.BaseURL,
		Model:                  req.Model,
		Enabled:                req.Enabled,
		FeatureAlternatives:    req.FeatureAlternatives,
		FeatureChat:            req.FeatureChat,
		FeatureAnalysis:        req.FeatureAnalysis,
		FeatureRecommendations: req.FeatureRecommendations,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(adminID, services.AuditUpdateAIProvider, "ai_provider", string(kind), c.ClientIP(), req.auditChanges())

	c.JSON(http.StatusOK, gin.H{"provider": view})
}

// TestProvider sends a minimal prompt to a provider
// @Summary     Test AI provider
// @Description Round-trip a short prompt through the stored configuration of a provider
// @Tags        admin
// @Produce     json
// @Security    BearerAuth
// @Param       kind path string true "Provider (claude, openai, ollama)"
// @Success     200 {object} services.ConnectionResult "Connection works"
// @Failure     400 {object} ErrorResponse "Provider not configured"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Administrator access required"
// @Failure     503 {object} ErrorResponse "Provider unavailable"
// @Router      /admin/ai/providers/{kind}/test [post]
func (h *AdminHandler) TestProvider(c *gin.Context) {
	result, err := h.aiService.TestConnection(c.Request.Context(), models.AIProviderKind(c.Param("kind")))
	if err != nil {
		respondWithError(c, providerDiagnostic(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListProviderModels lists the models a provider offers
// @Summary     List provider models
// @Description Query the provider for its available models
// @Tags        admin
// @Produce     json
// @Security    BearerAuth
// @Param       kind path string true "Provider (claude, openai, ollama)"
// @Success     200 {object} map[string][]string "Models"
// @Failure     400 {object} ErrorResponse "Provider not configured"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Administrator access required"
// @Failure     503 {object} ErrorResponse "Provider unavailable"
// @Router      /admin/ai/providers/{kind}/models [get]
func (h *AdminHandler) ListProviderModels(c *gin.Context) {
	modelIDs, err := h.aiService.ListModels(c.Request.Context(), models.AIProviderKind(c.Param("kind")))
	if err != nil {
		respondWithError(c, providerDiagnostic(err))
		return
	}
	if modelIDs == nil {
		modelIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"models": modelIDs})
}
