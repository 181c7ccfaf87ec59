// Package validator provides custom validation functions for Gin's binding engine.
package validator

import (
	"strings"
	"time"

	money "github.com/Rhymond/go-money"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"subtrack/internal/models"
)

// DateLayout is the wire format for civil dates such as next_renewal_date.
const DateLayout = "2006-01-02"

// Register registers all custom validators with the Gin binding engine.
func Register() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("iso4217", validateISO4217)
		_ = v.RegisterValidation("billing_cycle", validateBillingCycle)
		_ = v.RegisterValidation("subscription_status", validateSubscriptionStatus)
		_ = v.RegisterValidation("ai_provider", validateAIProvider)
		_ = v.RegisterValidation("civil_date", validateCivilDate)
	}
}

// IsCurrency reports whether code is an ISO 4217 code known to go-money.
func IsCurrency(code string) bool {
	if len(code) != 3 || strings.ToUpper(code) != code {
		return false
	}
	return money.GetCurrency(code) != nil
}

func validateISO4217(fl validator.FieldLevel) bool {
	return IsCurrency(fl.Field().String())
}

func validateBillingCycle(fl validator.FieldLevel) bool {
	return models.BillingCycle(fl.Field().String()).Valid()
}

func validateSubscriptionStatus(fl validator.FieldLevel) bool {
	return models.SubscriptionStatus(fl.Field().String()).Valid()
}

func validateAIProvider(fl validator.FieldLevel) bool {
	return models.AIProviderKind(fl.Field().String()).Valid()
}

func validateCivilDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(DateLayout, fl.Field().String())
	return err == nil
}
