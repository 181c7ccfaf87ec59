// Package notify delivers renewal alerts to users, by email through Resend
// or to the application log when no email provider is configured.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/resend/resend-go/v2"

	"subtrack/internal/logger"
)

// Channels recorded on alert deliveries.
const (
	ChannelEmail = "email"
	ChannelLog   = "log"
)

// Alert is one renewal reminder for one recipient.
type Alert struct {
	To               string
	Username         string
	SubscriptionName string
	Amount           string // formatted with currency, e.g. "$9.99"
	Cycle            string
	DueDate          time.Time
	DaysUntil        int
}

// When describes the due date relative to today.
func (a Alert) When() string {
	switch a.DaysUntil {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	}
	return fmt.Sprintf("in %d days", a.DaysUntil)
}

// Subject is the email subject line.
func (a Alert) Subject() string {
	return fmt.Sprintf("%s renews %s", a.SubscriptionName, a.When())
}

// Notifier sends renewal alerts.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, alert Alert) error
}

// New returns a Resend notifier when apiKey is set and a log notifier otherwise.
func New(apiKey, from string) Notifier {
	if apiKey == "" {
		logger.Named("notify").Warnw("resend not configured, alerts will only be logged")
		return LogNotifier{}
	}
	return NewResendNotifier(resend.NewClient(apiKey).Emails, from)
}

// EmailSender is the subset of the Resend emails API used here.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendNotifier emails alerts through Resend.
type ResendNotifier struct {
	emails EmailSender
	from   string
}

// NewResendNotifier creates a ResendNotifier sending from the given address.
func NewResendNotifier(emails EmailSender, from string) *ResendNotifier {
	return &ResendNotifier{emails: emails, from: from}
}

// Channel implements Notifier.
func (n *ResendNotifier) Channel() string { return ChannelEmail }

// Notify implements Notifier.
func (n *ResendNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.To == "" {
		return fmt.Errorf("alert for %q has no recipient", alert.SubscriptionName)
	}
	resp, err := n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{alert.To},
		Subject: alert.Subject(),
		Html:    renderHTML(alert),
		Text:    renderText(alert),
	})
	if err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}
	logger.Named("notify").Debugw("alert email sent", "email_id", resp.Id, "subscription", alert.SubscriptionName)
	return nil
}

func renderText(a Alert) string {
	return fmt.Sprintf("Hi %s,\n\nYour %s subscription (%s/%s) renews %s, on %s.\n\nReview it in subtrack if you no longer need it.\n",
		a.Username, a.SubscriptionName, a.Amount, a.Cycle, a.When(), a.DueDate.Format("Mon, 02 Jan 2006"))
}

func renderHTML(a Alert) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <p>Hi %s,</p>
  <p>Your <strong>%s</strong> subscription (%s/%s) renews <strong>%s</strong>, on %s.</p>
  <p>Review it in subtrack if you no longer need it.</p>
</body>
</html>`,
		html.EscapeString(a.Username),
		html.EscapeString(a.SubscriptionName),
		html.EscapeString(a.Amount),
		html.EscapeString(a.Cycle),
		a.When(),
		a.DueDate.Format("Mon, 02 Jan 2006"),
	)
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct{}

// Channel implements Notifier.
func (LogNotifier) Channel() string { return ChannelLog }

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	logger.Named("notify").Infow("renewal alert",
		"subscription", alert.SubscriptionName,
		"amount", alert.Amount,
		"cycle", alert.Cycle,
		"due_date", alert.DueDate.Format("2006-01-02"),
		"days_until", alert.DaysUntil,
	)
	return nil
}
