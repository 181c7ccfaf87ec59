package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"subtrack/internal/ai"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/logger"
	"subtrack/internal/models"
)

const connectionTestMaxTokens = 10

// aiService turns feature requests into single provider calls. A request is
// Disabled until the snapshot allows its feature, then Ready, InFlight while
// the provider call runs, and finally Completed or Failed.
type aiService struct {
	settings    AISettingsServicer
	subs        SubscriptionServicer
	factory     ai.Factory
	timeout     time.Duration
	testTimeout time.Duration
}

// NewAIService creates a new AIServicer. A nil factory selects ai.New.
func NewAIService(settings AISettingsServicer, subs SubscriptionServicer, factory ai.Factory, timeout, testTimeout time.Duration) AIServicer {
	if factory == nil {
		factory = ai.New
	}
	return &aiService{
		settings:    settings,
		subs:        subs,
		factory:     factory,
		timeout:     timeout,
		testTimeout: testTimeout,
	}
}

// Features reports which features are usable. Everything is false while AI
// is disabled.
func (s *aiService) Features() (FeatureFlags, error) {
	snap, err := s.settings.Snapshot()
	if err != nil {
		return FeatureFlags{}, err
	}
	if !snap.Enabled {
		return FeatureFlags{}, nil
	}
	return snap.Features, nil
}

// ready takes the request's settings snapshot and rejects disabled features
// before any other work is done.
func (s *aiService) ready(feature models.AIFeature) (AISnapshot, error) {
	snap, err := s.settings.Snapshot()
	if err != nil {
		return AISnapshot{}, err
	}
	if !snap.FeatureEnabled(feature) {
		logger.Named("ai").Debugw("feature disabled", "feature", feature, "ai_enabled", snap.Enabled)
		return AISnapshot{}, apperrors.WithMessage(apperrors.ErrFeatureDisabled,
			fmt.Sprintf("AI %s is not enabled", feature))
	}
	return snap, nil
}

// complete makes exactly one provider call with the snapshot's settings.
// The plaintext key only exists inside the credential scope.
func (s *aiService) complete(ctx context.Context, snap AISnapshot, label string, timeout time.Duration, req ai.CompletionRequest) (*ai.Completion, error) {
	log := logger.Named("ai").With("feature", label, "provider", snap.Kind, "model", snap.Model)
	log.Debugw("request in flight")
	start := time.Now()

	var out *ai.Completion
	err := snap.Credential.Use(func(apiKey string) error {
		provider, err := s.factory(snap.Kind, ai.Options{
			APIKey:  apiKey,
			BaseURL: snap.BaseURL,
			Model:   snap.Model,
			Timeout: timeout,
		})
		if err != nil {
			return err
		}
		out, err = provider.Complete(ctx, req)
		return err
	})
	latency := time.Since(start)
	if err != nil {
		err = asProviderError(err)
		logFailure(log, err, latency)
		return nil, err
	}

	log.Infow("request completed", "latency_ms", latency.Milliseconds())
	return out, nil
}

// asProviderError keeps AppErrors intact and classifies anything else as an
// unavailable provider.
func asProviderError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(apperrors.ErrProviderUnavailable, err)
}

func logFailure(log *zap.SugaredLogger, err error, latency time.Duration) {
	fields := []interface{}{"latency_ms", latency.Milliseconds()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		fields = append(fields, "code", appErr.Code)
		if appErr.Internal != nil {
			fields = append(fields, "error", appErr.Internal.Error())
		}
	} else {
		fields = append(fields, "error", err.Error())
	}
	log.Warnw("request failed", fields...)
}

// FindAlternatives asks the provider for cheaper options for one subscription.
func (s *aiService) FindAlternatives(ctx context.Context, userID, subscriptionID string) ([]Alternative, error) {
	snap, err := s.ready(models.AIFeatureAlternatives)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.GetSubscriptionByID(userID, subscriptionID)
	if err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, snap, string(models.AIFeatureAlternatives), s.timeout, ai.CompletionRequest{
		Prompt:  alternativesPrompt(sub),
		Context: systemPrompt,
	})
	if err != nil {
		return nil, err
	}
	return parseAlternatives(reply.Text)
}

// AnalyzeSpending returns insights about the user's active subscriptions.
func (s *aiService) AnalyzeSpending(ctx context.Context, userID string) ([]Insight, error) {
	snap, err := s.ready(models.AIFeatureAnalysis)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.ListSubscriptions(userID, true)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return emptyPortfolioInsights, nil
	}

	reply, err := s.complete(ctx, snap, string(models.AIFeatureAnalysis), s.timeout, ai.CompletionRequest{
		Prompt:  analysisPrompt(portfolioContext(subs)),
		Context: systemPrompt,
	})
	if err != nil {
		return nil, err
	}
	return parseInsights(reply.Text)
}

// Recommend returns cost-saving recommendations for the user's portfolio.
func (s *aiService) Recommend(ctx context.Context, userID string) ([]Recommendation, error) {
	snap, err := s.ready(models.AIFeatureRecommendations)
	if err != nil {
		return nil, err
	}
	subs, err := s.subs.ListSubscriptions(userID, true)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return emptyPortfolioRecommendations, nil
	}

	reply, err := s.complete(ctx, snap, string(models.AIFeatureRecommendations), s.timeout, ai.CompletionRequest{
		Prompt:  recommendationsPrompt(portfolioContext(subs)),
		Context: systemPrompt,
	})
	if err != nil {
		return nil, err
	}
	return parseRecommendations(reply.Text)
}

// Chat answers a free-form question with the user's portfolio as context.
func (s *aiService) Chat(ctx context.Context, userID, message string, history []ChatMessage) (*ChatReply, error) {
	snap, err := s.ready(models.AIFeatureChat)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "message is required")
	}
	subs, err := s.subs.ListSubscriptions(userID, true)
	if err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, snap, string(models.AIFeatureChat), s.timeout, ai.CompletionRequest{
		Prompt:  chatPrompt(message, history),
		Context: chatSystemPrompt(portfolioContext(subs)),
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil, malformedReply("chat reply is empty")
	}
	return &ChatReply{Reply: text, Model: reply.Model}, nil
}

// adminSnapshot loads a provider's stored settings for an admin action. The
// provider does not need to be enabled but must have a key if it uses one.
func (s *aiService) adminSnapshot(kind models.AIProviderKind) (AISnapshot, error) {
	snap, err := s.settings.ProviderSnapshot(kind)
	if err != nil {
		return AISnapshot{}, err
	}
	if kind.RequiresAPIKey() && snap.Credential.IsZero() {
		return AISnapshot{}, apperrors.WithMessage(apperrors.ErrInvalidProviderConfig,
			fmt.Sprintf("%s has no API key configured", kind))
	}
	return snap, nil
}

// TestConnection sends a minimal prompt to the stored configuration of kind.
func (s *aiService) TestConnection(ctx context.Context, kind models.AIProviderKind) (*ConnectionResult, error) {
	snap, err := s.adminSnapshot(kind)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := s.complete(ctx, snap, "connection_test", s.testTimeout, ai.CompletionRequest{
		Prompt:    "Hi",
		MaxTokens: connectionTestMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	model := reply.Model
	if model == "" {
		model = snap.Model
	}
	return &ConnectionResult{Provider: kind, Model: model, LatencyMS: time.Since(start).Milliseconds()}, nil
}

// ListModels returns the models the configured backend of kind offers.
func (s *aiService) ListModels(ctx context.Context, kind models.AIProviderKind) ([]string, error) {
	snap, err := s.adminSnapshot(kind)
	if err != nil {
		return nil, err
	}

	log := logger.Named("ai").With("provider", kind)
	var modelIDs []string
	err = snap.Credential.Use(func(apiKey string) error {
		provider, err := s.factory(kind, ai.Options{
			APIKey:  apiKey,
			BaseURL: snap.BaseURL,
			Timeout: s.testTimeout,
		})
		if err != nil {
			return err
		}
		modelIDs, err = provider.ListModels(ctx)
		return err
	})
	if err != nil {
		err = asProviderError(err)
		logFailure(log, err, 0)
		return nil, err
	}
	return modelIDs, nil
}
