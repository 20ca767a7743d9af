package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/config"
)

// WebhookSuspender asks the account service to suspend a provider.
type WebhookSuspender struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewWebhookSuspender(url, token string) *WebhookSuspender {
	return &WebhookSuspender{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: config.SuspensionRequestTimeout},
	}
}

type suspendRequest struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Reason     string    `json:"reason"`
}

func (w *WebhookSuspender) Suspend(ctx context.Context, providerID uuid.UUID, reason string) error {
	body, err := json.Marshal(suspendRequest{ProviderID: providerID, Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("suspension request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("account service returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSuspender only records the signal. Used when no account service URL is set.
type LogSuspender struct {
	log *slog.Logger
}

func NewLogSuspender(log *slog.Logger) *LogSuspender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSuspender{log: log}
}

func (l *LogSuspender) Suspend(_ context.Context, providerID uuid.UUID, reason string) error {
	l.log.Warn("suspension requested", "provider_id", providerID, "reason", reason)
	return nil
}
