package integrations

import (
	"fmt"
	"net/http"

	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/validator"
)

// ChannelSpec selects and configures one adapter. Only the section matching
// Kind is read.
type ChannelSpec struct {
	Kind    notification.Kind
	Slack   notification.SlackConfig
	Email   notification.EmailConfig
	Webhook notification.WebhookConfig
}

// MinSeverity returns the configured floor for the selected adapter.
func (s ChannelSpec) MinSeverity() string {
	switch s.Kind {
	case notification.KindSlack:
		return s.Slack.MinSeverity
	case notification.KindEmail:
		return s.Email.MinSeverity
	case notification.KindWebhook:
		return s.Webhook.MinSeverity
	default:
		return ""
	}
}

// NewChannel builds the adapter for spec after validating its settings.
// client is shared by HTTP adapters and may be nil.
func NewChannel(spec ChannelSpec, client *http.Client) (notification.Channel, error) {
	if !spec.Kind.IsValid() {
		return nil, errors.ConfigurationError(fmt.Sprintf("unsupported channel kind %q", spec.Kind), nil)
	}

	var section interface{}
	switch spec.Kind {
	case notification.KindSlack:
		section = spec.Slack
	case notification.KindEmail:
		section = spec.Email
	case notification.KindWebhook:
		section = spec.Webhook
	}
	if problems := validator.Validate(section); len(problems) > 0 {
		return nil, errors.ConfigurationError(fmt.Sprintf("invalid %s channel settings", spec.Kind), problems)
	}

	switch spec.Kind {
	case notification.KindSlack:
		return NewSlackChannel(spec.Slack, client), nil
	case notification.KindEmail:
		return NewEmailChannel(spec.Email), nil
	default:
		return NewWebhookChannel(spec.Webhook, client), nil
	}
}
