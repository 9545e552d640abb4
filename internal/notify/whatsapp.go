// Package notify delivers replies over the WhatsApp Business Cloud API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/metrics"
)

const defaultGraphAPIBase = "https://graph.facebook.com"

// WhatsApp implements domain.Notifier against the Graph API messages
// endpoint.
type WhatsApp struct {
	apiBase       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	client        *http.Client
	logger        *slog.Logger
}

type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	APIBase       string // override for tests
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGraphAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v22.0"
	}
	return &WhatsApp{
		apiBase:       cfg.APIBase,
		apiVersion:    cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}
}

// Send delivers a text message to the recipient's wa_id. The caller decides
// what a failure means; for the webhook path it is logged and ignored.
func (w *WhatsApp) Send(ctx context.Context, to string, body string) error {
	url := fmt.Sprintf("%s/%s/%s/messages", w.apiBase, w.apiVersion, w.phoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.Default.Counter("wabridge_outbound_failures_total",
			"Outbound message sends that failed.").Inc()
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Default.Counter("wabridge_outbound_failures_total",
			"Outbound message sends that failed.").Inc()
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	w.logger.Info("message sent", "to", to, "status", resp.StatusCode)
	return nil
}
