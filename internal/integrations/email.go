package integrations

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel mails alert batches through an SMTP relay.
type EmailChannel struct {
	config   notification.EmailConfig
	sendMail SendMailFunc
	now      func() time.Time
}

// NewEmailChannel creates an SMTP adapter
func NewEmailChannel(config notification.EmailConfig) *EmailChannel {
	return &EmailChannel{config: config, sendMail: smtp.SendMail, now: time.Now}
}

// Name identifies the channel in delivery reports
func (e *EmailChannel) Name() string {
	return string(notification.KindEmail)
}

// Send mails the batch. smtp.SendMail has no context support, so the call runs
// in its own goroutine and is abandoned when ctx ends.
func (e *EmailChannel) Send(ctx context.Context, message string, severity alert.Severity) notification.DeliveryResult {
	if len(e.config.To) == 0 {
		return notification.Failed(fmt.Errorf("no email recipients configured"))
	}

	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}
	msg := e.buildMessage(message, severity)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.config.From, e.config.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return notification.Failed(errors.AdapterDelivery(e.Name(), err))
		}
		return notification.Delivered()
	case <-ctx.Done():
		return notification.Failed(ctx.Err())
	}
}

// Subject carries the severity and the first line of the batch summary.
func (e *EmailChannel) subject(message string, severity alert.Severity) string {
	first, _, _ := strings.Cut(message, "\n")
	first = strings.TrimPrefix(first, "["+severity.Label()+"] ")
	return fmt.Sprintf("[%s] %s", severity.Label(), first)
}

func (e *EmailChannel) buildMessage(message string, severity alert.Severity) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", e.subject(message, severity))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
