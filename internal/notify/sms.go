package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/models"
)

// SMSSender posts messages to an HTTP SMS gateway.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSSender(cfg config.SMSConfig, client *http.Client) *SMSSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSSender{cfg: cfg, client: client}
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func (s *SMSSender) Send(ctx context.Context, msg models.Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("sms recipient is empty")
	}
	body, err := json.Marshal(smsPayload{To: msg.Recipient, From: s.cfg.From, Body: msg.Body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
