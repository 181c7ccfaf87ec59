package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/services"
)

// AIHandler handles the user-facing AI feature endpoints.
type AIHandler struct {
	aiService services.AIServicer
}

// NewAIHandler creates a new AIHandler.
func NewAIHandler(aiService services.AIServicer) *AIHandler {
	return &AIHandler{aiService: aiService}
}

// ChatRequest represents a chat question with optional prior turns.
// Only the last 10 history messages are sent to the provider.
type ChatRequest struct {
	Message string                 `json:"message" binding:"required,max=4000"`
	History []services.ChatMessage `json:"history" binding:"omitempty,max=50,dive"`
}

// GetFeatures reports which AI features are available
// @Summary     Get AI features
// @Description Which AI features are enabled right now. All false when AI is off.
// @Tags        ai
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} services.FeatureFlags "Feature flags"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /ai/features [get]
func (h *AIHandler) GetFeatures(c *gin.Context) {
	flags, err := h.aiService.Features()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

// FindAlternatives suggests alternatives for a subscription
// @Summary     Find alternatives
// @Description Ask the AI provider for cheaper or better alternatives to one subscription
// @Tags        ai
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Subscription ID"
// @Success     200 {object} map[string][]services.Alternative "Alternatives"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Feature disabled"
// @Failure     404 {object} ErrorResponse "Subscription not found"
// @Failure     429 {object} ErrorResponse "Rate limited"
// @Failure     503 {object} ErrorResponse "AI temporarily unavailable"
// @Router      /ai/alternatives/{id} [post]
func (h *AIHandler) FindAlternatives(c *gin.Context) {
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

	alternatives, err := h.aiService.FindAlternatives(c.Request.Context(), userID, subID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alternatives": alternatives})
}

// AnalyzeSpending returns spending insights
// @Summary     Analyze spending
// @Description Insights about the user's active subscriptions
// @Tags        ai
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} map[string][]services.Insight "Insights"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Feature disabled"
// @Failure     429 {object} ErrorResponse "Rate limited"
// @Failure     503 {object} ErrorResponse "AI temporarily unavailable"
// @Router      /ai/analysis [get]
func (h *AIHandler) AnalyzeSpending(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	insights, err := h.aiService.AnalyzeSpending(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// Recommend returns cost-saving recommendations
// @Summary     Get recommendations
// @Description Suggested actions to reduce subscription spend
// @Tags        ai
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} map[string][]services.Recommendation "Recommendations"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Feature disabled"
// @Failure     429 {object} ErrorResponse "Rate limited"
// @Failure     503 {object} ErrorResponse "AI temporarily unavailable"
// @Router      /ai/recommendations [get]
func (h *AIHandler) Recommend(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	recs, err := h.aiService.Recommend(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

// Chat answers a question about the user's subscriptions
// @Summary     Chat
// @Description Ask a free-form question with the user's subscriptions as context
// @Tags        ai
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body ChatRequest true "Question and prior turns"
// @Success     200 {object} services.ChatReply "Reply"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Feature disabled"
// @Failure     429 {object} ErrorResponse "Rate limited"
// @Failure     503 {object} ErrorResponse "AI temporarily unavailable"
// @Router      /ai/chat [post]
func (h *AIHandler) Chat(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	reply, err := h.aiService.Chat(c.Request.Context(), userID, req.Message, req.History)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
