package services

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"subtrack/internal/ai"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/logger"
	"subtrack/internal/models"
)

const redactedKey = "********"

// Sealer encrypts API keys for storage and opens them for use.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// AISnapshot is an immutable copy of the active AI settings. Requests take
// one snapshot at call start and never observe later admin writes.
type AISnapshot struct {
	Kind       models.AIProviderKind
	Enabled    bool
	BaseURL    string
	Model      string
	Features   FeatureFlags
	Credential ai.Credential
}

// FeatureEnabled reports whether AI is on and the given feature is allowed.
func (s AISnapshot) FeatureEnabled(f models.AIFeature) bool {
	if !s.Enabled {
		return false
	}
	switch f {
	case models.AIFeatureAlternatives:
		return s.Features.Alternatives
	case models.AIFeatureChat:
		return s.Features.Chat
	case models.AIFeatureAnalysis:
		return s.Features.Analysis
	case models.AIFeatureRecommendations:
		return s.Features.Recommendations
	}
	return false
}

// aiSettingsService stores provider configs and serves the active snapshot.
type aiSettingsService struct {
	db        *gorm.DB
	sealer    Sealer
	ollamaURL string
}

// NewAISettingsService creates a new AISettingsServicer. ollamaURL is the base
// URL used for Ollama when the admin has not set one.
func NewAISettingsService(db *gorm.DB, sealer Sealer, ollamaURL string) AISettingsServicer {
	return &aiSettingsService{db: db, sealer: sealer, ollamaURL: ollamaURL}
}

// ListProviders returns every supported provider with keys redacted.
// Kinds that were never configured are reported with defaults.
func (s *aiSettingsService) ListProviders() ([]ProviderView, error) {
	var rows []models.AIProviderConfig
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	byKind := make(map[models.AIProviderKind]*models.AIProviderConfig, len(rows))
	for i := range rows {
		byKind[rows[i].Kind] = &rows[i]
	}

	views := make([]ProviderView, 0, len(models.AIProviderKinds))
	for _, kind := range models.AIProviderKinds {
		cfg, ok := byKind[kind]
		if !ok {
			cfg = defaultProviderConfig(kind)
		}
		views = append(views, s.view(cfg))
	}
	return views, nil
}

func defaultProviderConfig(kind models.AIProviderKind) *models.AIProviderConfig {
	return &models.AIProviderConfig{
		Kind:                   kind,
		FeatureAlternatives:    true,
		FeatureChat:            true,
		FeatureAnalysis:        true,
		FeatureRecommendations: true,
	}
}

func (s *aiSettingsService) view(cfg *models.AIProviderConfig) ProviderView {
	v := ProviderView{
		Kind:                   cfg.Kind,
		Enabled:                cfg.Enabled,
		HasAPIKey:              cfg.HasAPIKey(),
		RequiresAPIKey:         cfg.Kind.RequiresAPIKey(),
		BaseURL:                cfg.BaseURL,
		Model:                  cfg.Model,
		DefaultModel:           ai.DefaultModel(cfg.Kind),
		FeatureAlternatives:    cfg.FeatureAlternatives,
		FeatureChat:            cfg.FeatureChat,
		FeatureAnalysis:        cfg.FeatureAnalysis,
		FeatureRecommendations: cfg.FeatureRecommendations,
	}
	if v.HasAPIKey {
		v.APIKey = redactedKey
	}
	if cfg.Kind == models.AIProviderOllama && v.BaseURL == "" {
		v.BaseURL = s.ollamaURL
	}
	if !cfg.UpdatedAt.IsZero() {
		updated := cfg.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}

// UpdateProvider applies an admin change to one provider. The change is
// validated before anything is written; enabling a provider disables the
// others in the same transaction.
func (s *aiSettingsService) UpdateProvider(adminID string, kind models.AIProviderKind, in ProviderSettingsInput) (*ProviderView, error) {
	if !kind.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, fmt.Sprintf("unknown provider %q", kind))
	}

	var saved models.AIProviderConfig
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cfg := defaultProviderConfig(kind)
		err := tx.Where("kind = ?", kind).First(cfg).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		if err := s.apply(cfg, in); err != nil {
			return err
		}
		cfg.UpdatedBy = &adminID
		if err := cfg.Validate(); err != nil {
			return err
		}

		if cfg.Enabled {
			// UpdateColumn skips hooks; the zero-value model would fail validation.
			if err := tx.Model(&models.AIProviderConfig{}).
				Where("kind <> ? AND enabled = ?", kind, true).
				UpdateColumn("enabled", false).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
		}

		if isNew {
			err = tx.Create(cfg).Error
		} else {
			err = tx.Save(cfg).Error
		}
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return appErr
			}
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		saved = *cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ai-settings").Infow("provider settings updated",
		"kind", kind,
		"enabled", saved.Enabled,
		"has_api_key", saved.HasAPIKey(),
		"updated_by", adminID,
	)
	v := s.view(&saved)
	return &v, nil
}

func (s *aiSettingsService) apply(cfg *models.AIProviderConfig, in ProviderSettingsInput) error {
	if in.APIKey != nil {
		key := strings.TrimSpace(*in.APIKey)
		if key == "" {
			cfg.APIKeyEncrypted = ""
		} else {
			if !cfg.Kind.RequiresAPIKey() {
				return apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, fmt.Sprintf("%s does not use an API key", cfg.Kind))
			}
			sealed, err := s.sealer.Encrypt(key)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, fmt.Errorf("sealing api key: %w", err))
			}
			cfg.APIKeyEncrypted = sealed
		}
	}
	if in.BaseURL != nil {
		base := strings.TrimRight(strings.TrimSpace(*in.BaseURL), "/")
		if base != "" {
			u, err := url.Parse(base)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, "base_url must be an absolute http(s) URL")
			}
		}
		cfg.BaseURL = base
	}
	if in.Model != nil {
		cfg.Model = strings.TrimSpace(*in.Model)
	}
	if in.Enabled != nil {
		cfg.Enabled = *in.Enabled
	}
	if in.FeatureAlternatives != nil {
		cfg.FeatureAlternatives = *in.FeatureAlternatives
	}
	if in.FeatureChat != nil {
		cfg.FeatureChat = *in.FeatureChat
	}
	if in.FeatureAnalysis != nil {
		cfg.FeatureAnalysis = *in.FeatureAnalysis
	}
	if in.FeatureRecommendations != nil {
		cfg.FeatureRecommendations = *in.FeatureRecommendations
	}
	return nil
}

// Snapshot reads the active provider's settings from the database. With no
// enabled provider the snapshot has Enabled=false. Every call reads the row
// afresh so admin writes from any instance apply to the next request.
func (s *aiSettingsService) Snapshot() (AISnapshot, error) {
	var cfg models.AIProviderConfig
	err := s.db.Where("enabled = ?", true).First(&cfg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return AISnapshot{}, nil
	case err != nil:
		return AISnapshot{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return s.snapshotOf(&cfg), nil
}

// ProviderSnapshot returns the stored settings of one kind, enabled or not,
// for admin connection tests and model discovery.
func (s *aiSettingsService) ProviderSnapshot(kind models.AIProviderKind) (AISnapshot, error) {
	if !kind.Valid() {
		return AISnapshot{}, apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, fmt.Sprintf("unknown provider %q", kind))
	}
	cfg := defaultProviderConfig(kind)
	if err := s.db.Where("kind = ?", kind).First(cfg).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return AISnapshot{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return s.snapshotOf(cfg), nil
}

func (s *aiSettingsService) snapshotOf(cfg *models.AIProviderConfig) AISnapshot {
	base := cfg.BaseURL
	if base == "" && cfg.Kind == models.AIProviderOllama {
		base = s.ollamaURL
	}
	model := cfg.Model
	if model == "" {
		model = ai.DefaultModel(cfg.Kind)
	}
	return AISnapshot{
		Kind:    cfg.Kind,
		Enabled: cfg.Enabled,
		BaseURL: base,
		Model:   model,
		Features: FeatureFlags{
			Alternatives:    cfg.FeatureAlternatives,
			Chat:            cfg.FeatureChat,
			Analysis:        cfg.FeatureAnalysis,
			Recommendations: cfg.FeatureRecommendations,
		},
		Credential: ai.NewCredential(cfg.APIKeyEncrypted, s.sealer),
	}
}
