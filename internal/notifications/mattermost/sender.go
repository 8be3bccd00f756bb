// Package mattermost posts escalation alerts to a Mattermost incoming webhook.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/incident-tracker/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "IncidentTracker"
	// maxErrorBody caps how much of an error response is kept in the error.
	maxErrorBody = 512
)

// Config holds Mattermost sender configuration. The webhook URL travels with
// each notification in Notification.To.
type Config struct {
	DefaultUsername string
	DefaultIconURL  string
	Timeout         time.Duration
}

// Sender posts notifications to Mattermost incoming webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.DefaultUsername == "" {
		config.DefaultUsername = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type webhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Send posts the notification. The subject becomes a markdown heading above
// the body. Errors implement notifications.RetryableError.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) error {
	if n.To == "" {
		return &WebhookError{Message: "webhook URL is empty"}
	}

	text := n.Body
	if n.Subject != "" {
		text = "### " + n.Subject + "\n\n" + n.Body
	}

	body, err := json.Marshal(webhookPayload{
		Text:     text,
		Username: s.config.DefaultUsername,
		IconURL:  s.config.DefaultIconURL,
	})
	if err != nil {
		return &WebhookError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.To, bytes.NewReader(body))
	if err != nil {
		return &WebhookError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &WebhookError{Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Debug("mattermost message sent", "webhook", maskWebhookURL(n.To))
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return statusError(resp.StatusCode, string(detail))
}

// statusError classifies a non-200 webhook response. Throttling and server
// errors are retried; a rejected payload or a revoked hook is not.
func statusError(status int, detail string) error {
	e := &WebhookError{Status: status}

	switch {
	case status == http.StatusBadRequest:
		e.Message = "bad request: " + detail
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Message = "invalid or expired webhook"
	case status == http.StatusNotFound:
		e.Message = "webhook not found"
	case status == http.StatusTooManyRequests:
		e.Message = "rate limited"
		e.Retryable = true
	case status >= http.StatusInternalServerError:
		e.Message = "server error: " + detail
		e.Retryable = true
	default:
		// Carries no retry hint; the notifier decides.
		return fmt.Errorf("unexpected status %d: %s", status, detail)
	}
	return e
}

// WebhookError is a classified delivery failure.
type WebhookError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *WebhookError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Status, e.Message)
	}
	return "mattermost error: " + e.Message
}

// IsRetryable reports whether the delivery may succeed if repeated.
func (e *WebhookError) IsRetryable() bool { return e.Retryable }

// maskWebhookURL hides the webhook key in logs.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
