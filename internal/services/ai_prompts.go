package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"subtrack/internal/billing"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
)

// chatHistoryLimit is how many prior chat turns are replayed to the model.
const chatHistoryLimit = 10

// Text is a string field in a model reply. Models sometimes emit numbers or
// booleans where a string was asked for, so those are accepted verbatim.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("expected scalar, got %s", data[:1])
	default:
		*t = Text(data)
	}
	return nil
}

const systemPrompt = "You are a subscription cost optimization assistant. Be concise and factual."

func alternativesPrompt(sub *models.Subscription) string {
	category := sub.Category
	if category == "" {
		category = "Unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user has a subscription to: %s\n", sub.Name)
	fmt.Fprintf(&b, "Current cost: %s per %s\n", billing.FormatAmount(sub.Cost, sub.Currency), cycleUnit(sub.BillingCycle))
	fmt.Fprintf(&b, "Category: %s\n\n", category)
	b.WriteString("Suggest 3-5 cheaper or better-value alternatives. For each give the service name, ")
	b.WriteString("a one or two sentence description, pricing, and key differences from the original.\n\n")
	b.WriteString("Respond ONLY with a JSON array, no other text, in exactly this shape:\n")
	fmt.Fprintf(&b, `[{"name": "Alternative", "description": "What it offers", "price": "$9.99/month", "differences": "How it differs from %s"}]`, sub.Name)
	return b.String()
}

func analysisPrompt(portfolio string) string {
	return portfolio + "\n" +
		"Analyze this spending and give 3-5 key insights about spending patterns, " +
		"areas for cost reduction and concerning trends.\n\n" +
		"Respond ONLY with a JSON object, no other text, in exactly this shape:\n" +
		`{"insights": [{"title": "Brief insight title", "description": "Detailed explanation"}]}`
}

func recommendationsPrompt(portfolio string) string {
	return portfolio + "\n" +
		"Based on this portfolio give 3-5 personalised recommendations to reduce costs, " +
		"optimise value, consolidate services or cancel underused subscriptions. " +
		`Estimate savings (e.g. "$10/month" or "N/A") and rate priority high, medium or low.` + "\n\n" +
		"Respond ONLY with a JSON object, no other text, in exactly this shape:\n" +
		`{"recommendations": [{"title": "Title", "description": "Explanation", "savings": "$10/month", "priority": "high"}]}`
}

func chatSystemPrompt(portfolio string) string {
	return "You are a helpful subscription management assistant.\n\n" + portfolio + "\n" +
		"Answer questions about these subscriptions, help optimise costs, suggest alternatives " +
		"and provide insights. Be concise and friendly."
}

func chatPrompt(message string, history []ChatMessage) string {
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation history:\n")
		for _, m := range history {
			role := "User"
			if m.Role == "assistant" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "User: %s\nAssistant:", message)
	return b.String()
}

func cycleUnit(c models.BillingCycle) string {
	switch c {
	case models.BillingCycleWeekly:
		return "week"
	case models.BillingCycleYearly:
		return "year"
	}
	return "month"
}

// portfolioContext describes the user's active subscriptions, most expensive
// first, with per-currency monthly and yearly totals.
func portfolioContext(subs []models.Subscription) string {
	active := make([]models.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.IsActive() {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		mi := billing.MonthlyEquivalent(active[i].Cost, active[i].BillingCycle)
		mj := billing.MonthlyEquivalent(active[j].Cost, active[j].BillingCycle)
		return mi.GreaterThan(mj)
	})

	monthly := map[string]decimal.Decimal{}
	yearly := map[string]decimal.Decimal{}
	var currencies []string
	for _, s := range active {
		if _, ok := monthly[s.Currency]; !ok {
			currencies = append(currencies, s.Currency)
			monthly[s.Currency] = decimal.Zero
			yearly[s.Currency] = decimal.Zero
		}
		monthly[s.Currency] = monthly[s.Currency].Add(billing.MonthlyEquivalent(s.Cost, s.BillingCycle))
		yearly[s.Currency] = yearly[s.Currency].Add(billing.YearlyEquivalent(s.Cost, s.BillingCycle))
	}
	sort.Strings(currencies)

	var b strings.Builder
	b.WriteString("User's Subscription Portfolio:\n")
	fmt.Fprintf(&b, "Total Active Subscriptions: %d\n", len(active))
	for _, c := range currencies {
		fmt.Fprintf(&b, "Monthly Cost (%s): %s\n", c, billing.FormatAmount(monthly[c], c))
		fmt.Fprintf(&b, "Yearly Cost (%s): %s\n", c, billing.FormatAmount(yearly[c], c))
	}
	b.WriteString("\nIndividual Subscriptions:\n")
	for _, s := range active {
		fmt.Fprintf(&b, "- %s: %s/%s", s.Name, billing.FormatAmount(s.Cost, s.Currency), cycleUnit(s.BillingCycle))
		if s.Category != "" {
			fmt.Fprintf(&b, " (%s)", s.Category)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON returns the span from the first opening to the last closing
// delimiter, which strips prose or code fences around a JSON payload.
func extractJSON(reply string, openDelim, closeDelim byte) (string, bool) {
	start := strings.IndexByte(reply, openDelim)
	end := strings.LastIndexByte(reply, closeDelim)
	if start == -1 || end <= start {
		return "", false
	}
	return reply[start : end+1], true
}

func malformedReply(format string, args ...any) error {
	return apperrors.Wrap(apperrors.ErrMalformedResponse, fmt.Errorf(format, args...))
}

func parseAlternatives(reply string) ([]Alternative, error) {
	raw, ok := extractJSON(reply, '[', ']')
	if !ok {
		return nil, malformedReply("alternatives reply has no JSON array")
	}
	var out []Alternative
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, malformedReply("decoding alternatives: %w", err)
	}
	return out, nil
}

func parseInsights(reply string) ([]Insight, error) {
	raw, ok := extractJSON(reply, '{', '}')
	if !ok {
		return nil, malformedReply("analysis reply has no JSON object")
	}
	var out struct {
		Insights []Insight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, malformedReply("decoding insights: %w", err)
	}
	if out.Insights == nil {
		return nil, malformedReply("analysis reply is missing insights")
	}
	return out.Insights, nil
}

func parseRecommendations(reply string) ([]Recommendation, error) {
	raw, ok := extractJSON(reply, '{', '}')
	if !ok {
		return nil, malformedReply("recommendations reply has no JSON object")
	}
	var out struct {
		Recommendations []Recommendation `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, malformedReply("decoding recommendations: %w", err)
	}
	if out.Recommendations == nil {
		return nil, malformedReply("recommendations reply is missing recommendations")
	}
	return out.Recommendations, nil
}

var (
	emptyPortfolioInsights = []Insight{{
		Title:       "No Subscriptions Yet",
		Description: "Add some subscriptions to get AI-powered insights on your spending patterns.",
	}}
	emptyPortfolioRecommendations = []Recommendation{{
		Title:       "Start Adding Subscriptions",
		Description: "Add your subscriptions to get personalized AI recommendations for optimizing your spending.",
		Savings:     "N/A",
		Priority:    "low",
	}}
)
