package notification

import (
	"context"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
)

// Channel delivers a rendered alert batch to one destination. Implementations
// report failures in the result rather than panicking or returning errors.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string, severity alert.Severity) DeliveryResult
}

// DeliveryResult is what a channel reports for one send.
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Delivered is a successful result.
func Delivered() DeliveryResult {
	return DeliveryResult{Delivered: true}
}

// Failed wraps err as an unsuccessful result.
func Failed(err error) DeliveryResult {
	return DeliveryResult{Error: err.Error()}
}

// Kind identifies a channel adapter type in configuration.
type Kind string

const (
	KindSlack   Kind = "slack"
	KindEmail   Kind = "email"
	KindWebhook Kind = "webhook"
)

// IsValid checks if the kind is supported
func (k Kind) IsValid() bool {
	switch k {
	case KindSlack, KindEmail, KindWebhook:
		return true
	default:
		return false
	}
}

// DefaultMinSeverity returns the lowest severity routed to a kind when the
// configuration does not say otherwise. Email receives everything, chat and
// webhooks only actionable alerts.
func DefaultMinSeverity(kind Kind) alert.Severity {
	switch kind {
	case KindSlack, KindWebhook:
		return alert.SeverityWarning
	default:
		return alert.SeverityInfo
	}
}

// ChannelOutcome records one channel's part of a dispatch.
type ChannelOutcome struct {
	Channel    string        `json:"channel"`
	Delivered  bool          `json:"delivered"`
	Skipped    bool          `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
	AlertCount int           `json:"alert_count"`
	Duration   time.Duration `json:"duration"`
}

// DeliveryReport is the outcome of fanning one batch out to every channel.
type DeliveryReport struct {
	Outcomes []ChannelOutcome `json:"outcomes"`
}

// FailedChannels lists channels whose send did not succeed.
func (r DeliveryReport) FailedChannels() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Delivered && !o.Skipped {
			out = append(out, o.Channel)
		}
	}
	return out
}

// AllDelivered reports whether every attempted send succeeded.
func (r DeliveryReport) AllDelivered() bool {
	return len(r.FailedChannels()) == 0
}

// Observer receives each deduplicated alert batch from the alert manager.
type Observer interface {
	ID() string
	Notify(ctx context.Context, alerts []alert.Alert) error
}

// ObserverResult is the outcome of notifying one observer.
type ObserverResult struct {
	ObserverID string `json:"observer_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// SlackConfig configures the Slack incoming-webhook adapter.
type SlackConfig struct {
	WebhookURL  string  `json:"webhook_url" yaml:"webhook_url" validate:"required,url"`
	Channel     string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	Username    string  `json:"username,omitempty" yaml:"username,omitempty"`
	IconEmoji   string  `json:"icon_emoji,omitempty" yaml:"icon_emoji,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty" validate:"gte=0"`
	MinSeverity string  `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
}

// EmailConfig configures the SMTP adapter.
type EmailConfig struct {
	Host        string   `json:"host" yaml:"host" validate:"required"`
	Port        int      `json:"port" yaml:"port" validate:"required,gt=0,lte=65535"`
	Username    string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string   `json:"-" yaml:"-"`
	From        string   `json:"from" yaml:"from" validate:"required,email"`
	To          []string `json:"to" yaml:"to" validate:"required,min=1,dive,email"`
	MinSeverity string   `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
}

// WebhookConfig configures the generic JSON webhook adapter.
type WebhookConfig struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	URL         string `json:"url" yaml:"url" validate:"required,url"`
	Secret      string `json:"-" yaml:"-"`
	MinSeverity string `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
}
