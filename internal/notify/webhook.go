package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts JSON documents to a fixed URL.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook constructs a webhook client. An empty url disables delivery.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a target URL is configured.
func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

// Post sends payload as JSON. Responses with status >= 400 are errors.
func (w *Webhook) Post(ctx context.Context, payload any) error {
	if !w.Enabled() {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
