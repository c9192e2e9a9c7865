package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// SlackChannel posts alert batches to a Slack incoming webhook.
type SlackChannel struct {
	config     notification.SlackConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewSlackChannel creates a Slack adapter. Posts are throttled to
// config.RatePerSec (one per second when unset), Slack's documented webhook limit.
func NewSlackChannel(config notification.SlackConfig, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	perSec := config.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	return &SlackChannel{
		config:     config,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		now:        time.Now,
	}
}

// Name identifies the channel in delivery reports
func (s *SlackChannel) Name() string {
	return string(notification.KindSlack)
}

// Send posts message as a single colour-coded attachment.
func (s *SlackChannel) Send(ctx context.Context, message string, severity alert.Severity) notification.DeliveryResult {
	if s.config.WebhookURL == "" {
		return notification.Failed(fmt.Errorf("no Slack webhook URL configured"))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return notification.Failed(fmt.Errorf("rate limit wait: %w", err))
	}

	payload, err := json.Marshal(s.buildSlackMessage(message, severity))
	if err != nil {
		return notification.Failed(fmt.Errorf("failed to marshal Slack message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return notification.Failed(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notification.Failed(errors.AdapterDelivery(s.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return notification.Failed(fmt.Errorf("Slack API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	return notification.Delivered()
}

// severityColor maps a severity to its attachment colour
func severityColor(severity alert.Severity) string {
	switch severity {
	case alert.SeverityCritical:
		return "#ff0000"
	case alert.SeverityWarning:
		return "#ff8c00"
	default:
		return "#36a64f"
	}
}

func severityEmoji(severity alert.Severity) string {
	switch severity {
	case alert.SeverityCritical:
		return ":rotating_light:"
	case alert.SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// buildSlackMessage builds a Slack message payload. The first line of message
// becomes the attachment title.
func (s *SlackChannel) buildSlackMessage(message string, severity alert.Severity) map[string]interface{} {
	title, body, _ := strings.Cut(message, "\n")

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor(severity),
				"title":  fmt.Sprintf("%s %s", severityEmoji(severity), title),
				"text":   body,
				"footer": "wsaudit",
				"ts":     s.now().Unix(),
			},
		},
	}
	if s.config.Channel != "" {
		payload["channel"] = s.config.Channel
	}
	if s.config.Username != "" {
		payload["username"] = s.config.Username
	}
	if s.config.IconEmoji != "" {
		payload["icon_emoji"] = s.config.IconEmoji
	}
	return payload
}
