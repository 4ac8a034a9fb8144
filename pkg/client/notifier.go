// Package client holds the HTTP clients for the external collaborators the
// lifecycle orchestrator depends on: the notification service and the session
// service. Both are thin, timeout-bounded JSON clients; retries and delivery
// guarantees live on the other side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tenant-service/internal/lifecycle"
)

// NotifierClient sends templated notifications through the external
// notification service.
type NotifierClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewNotifier creates a notification client
func NewNotifier(baseURL string) *NotifierClient {
	return &NotifierClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the structured payload to the notification service.
func (c *NotifierClient) Send(ctx context.Context, n lifecycle.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/notifications", c.BaseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification service returned %d: %s", resp.StatusCode, string(payload))
	}
	return nil
}
