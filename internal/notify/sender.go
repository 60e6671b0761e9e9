package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// Sender sends transactional emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message represents an email to send.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
}

// NewResendSender creates a Resend email sender.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{
		client: resend.NewCustomClient(&http.Client{Timeout: 10 * time.Second}, apiKey),
	}
}

// WithEndpoint points the sender at another API base, for tests and proxies.
func (s *ResendSender) WithEndpoint(endpoint string) (*ResendSender, error) {
	base, err := url.Parse(strings.TrimRight(endpoint, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse resend endpoint: %w", err)
	}
	s.client.BaseURL = base
	return s, nil
}

// Send sends an email via the Resend API.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("resend: sending email: %w", err)
	}
	return nil
}

// LogSender logs emails instead of sending them. Used when no email provider
// is configured.
type LogSender struct {
	logFn func(to, subject string)
}

// NewLogSender creates a sender that logs emails.
func NewLogSender(logFn func(to, subject string)) *LogSender {
	return &LogSender{logFn: logFn}
}

// Send logs the recipient and subject. Bodies are not logged since they can
// carry credentials.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	if l.logFn != nil {
		l.logFn(msg.To, msg.Subject)
	}
	return nil
}
