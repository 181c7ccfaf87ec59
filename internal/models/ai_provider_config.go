package models

import (
	"fmt"

	"gorm.io/gorm"

	apperrors "subtrack/internal/errors"
)

// AIProviderKind identifies an AI backend.
type AIProviderKind string

const (
	AIProviderClaude AIProviderKind = "claude"
	AIProviderOpenAI AIProviderKind = "openai"
	AIProviderOllama AIProviderKind = "ollama"
)

// AIProviderKinds lists every supported backend in display order.
var AIProviderKinds = []AIProviderKind{AIProviderClaude, AIProviderOpenAI, AIProviderOllama}

// Valid reports whether k is a supported backend.
func (k AIProviderKind) Valid() bool {
	switch k {
	case AIProviderClaude, AIProviderOpenAI, AIProviderOllama:
		return true
	}
	return false
}

// RequiresAPIKey reports whether the backend is a remote API that needs a key.
func (k AIProviderKind) RequiresAPIKey() bool {
	return k == AIProviderClaude || k == AIProviderOpenAI
}

// AIFeature names a user-facing AI capability that can be toggled.
type AIFeature string

const (
	AIFeatureAlternatives    AIFeature = "alternatives"
	AIFeatureChat            AIFeature = "chat"
	AIFeatureAnalysis        AIFeature = "analysis"
	AIFeatureRecommendations AIFeature = "recommendations"
)

// AIProviderConfig holds the admin settings for one backend. There is at most
// one row per kind and at most one enabled row overall.
type AIProviderConfig struct {
	Base
	Kind                   AIProviderKind `gorm:"size:20;uniqueIndex;not null" json:"kind"`
	APIKeyEncrypted        string         `gorm:"type:text" json:"-"`
	BaseURL                string         `gorm:"size:255" json:"base_url"`
	Model                  string         `gorm:"size:100" json:"model"`
	Enabled                bool           `gorm:"not null" json:"enabled"`
	FeatureAlternatives    bool           `gorm:"not null" json:"feature_alternatives"`
	FeatureChat            bool           `gorm:"not null" json:"feature_chat"`
	FeatureAnalysis        bool           `gorm:"not null" json:"feature_analysis"`
	FeatureRecommendations bool           `gorm:"not null" json:"feature_recommendations"`
	UpdatedBy              *string        `gorm:"type:uuid" json:"updated_by,omitempty"`
}

// TableName matches the migration; GORM's default would be a_iprovider_configs.
func (AIProviderConfig) TableName() string { return "ai_provider_configs" }

// HasAPIKey reports whether a sealed key is stored.
func (c *AIProviderConfig) HasAPIKey() bool {
	return c.APIKeyEncrypted != ""
}

// FeatureEnabled returns the flag for the given feature.
func (c *AIProviderConfig) FeatureEnabled(f AIFeature) bool {
	switch f {
	case AIFeatureAlternatives:
		return c.FeatureAlternatives
	case AIFeatureChat:
		return c.FeatureChat
	case AIFeatureAnalysis:
		return c.FeatureAnalysis
	case AIFeatureRecommendations:
		return c.FeatureRecommendations
	}
	return false
}

// Validate enforces that an enabled remote provider always has a key.
func (c *AIProviderConfig) Validate() error {
	if !c.Kind.Valid() {
		return apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, fmt.Sprintf("unknown provider %q", c.Kind))
	}
	if c.Enabled && c.Kind.RequiresAPIKey() && !c.HasAPIKey() {
		return apperrors.WithMessage(apperrors.ErrInvalidProviderConfig,
			fmt.Sprintf("%s requires an API key before it can be enabled", c.Kind))
	}
	return nil
}

// BeforeSave rejects invalid configurations before they reach the database.
func (c *AIProviderConfig) BeforeSave(_ *gorm.DB) error {
	return c.Validate()
}
