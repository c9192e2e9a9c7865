package integrations

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// EventAlertBatch is the X-Webhook-Event value for alert deliveries.
const EventAlertBatch = "alerts.batch"

// WebhookChannel posts alert batches as signed JSON.
type WebhookChannel struct {
	config     notification.WebhookConfig
	httpClient *http.Client
	now        func() time.Time
}

// WebhookPayload is the body receivers get.
type WebhookPayload struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// NewWebhookChannel creates a webhook adapter
func NewWebhookChannel(config notification.WebhookConfig, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookChannel{config: config, httpClient: client, now: time.Now}
}

// Name identifies the channel in delivery reports
func (w *WebhookChannel) Name() string {
	if w.config.Name != "" {
		return w.config.Name
	}
	return string(notification.KindWebhook)
}

// Send delivers the batch. Any 4xx or 5xx response is a failure.
func (w *WebhookChannel) Send(ctx context.Context, message string, severity alert.Severity) notification.DeliveryResult {
	now := w.now().UTC()
	payloadJSON, err := json.Marshal(WebhookPayload{
		ID:        uuid.New().String(),
		Event:     EventAlertBatch,
		Timestamp: now.Format(time.RFC3339),
		Severity:  severity.String(),
		Message:   message,
	})
	if err != nil {
		return notification.Failed(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payloadJSON))
	if err != nil {
		return notification.Failed(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", EventAlertBatch)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))

	// Add HMAC signature if secret is configured
	if w.config.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignPayload(payloadJSON, w.config.Secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return notification.Failed(errors.AdapterDelivery(w.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return notification.Failed(fmt.Errorf("webhook returned error status %d: %s", resp.StatusCode, string(body)))
	}

	return notification.Delivered()
}

// SignPayload signs the payload with HMAC-SHA256
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload in constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}
