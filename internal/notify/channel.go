package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Channel delivers a human-readable message to a customer-facing
// destination.
type Channel interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// LogChannel writes the message to the service log. Default when no
// delivery endpoint is configured.
type LogChannel struct{ Log *zap.Logger }

func (c *LogChannel) Send(ctx context.Context, destination, subject, body string) error {
	c.Log.Info("notification",
		zap.String("to", destination),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// WebhookChannel posts the message to a delivery endpoint (mail relay,
// chat bridge, what have you).
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (c *WebhookChannel) Send(ctx context.Context, destination, subject, body string) error {
	payload, _ := json.Marshal(map[string]string{
		"destination": destination,
		"subject":     subject,
		"body":        body,
	})
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
