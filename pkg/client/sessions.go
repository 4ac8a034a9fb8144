package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SessionClient revokes user sessions through the external session service.
type SessionClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSessions creates a session invalidation client
func NewSessions(baseURL string) *SessionClient {
	return &SessionClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// InvalidateAll revokes every active session belonging to the user.
func (c *SessionClient) InvalidateAll(ctx context.Context, userID uint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/sessions/users/%d", c.BaseURL, userID), nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("session service returned %d: %s", resp.StatusCode, string(payload))
	}
	return nil
}
