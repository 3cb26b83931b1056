package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AchievementClient triggers the achievement-processing collaborator
// over HTTP when a session completes. Delivery is best effort; the
// caller logs failures and moves on.
type AchievementClient struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

// NewAchievementClient creates a client for the achievement service.
func NewAchievementClient(serverURL, apiKey string) *AchievementClient {
	return &AchievementClient{
		serverURL: serverURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sessionCompletedEvent struct {
	UserID    int       `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// NotifySessionCompleted POSTs the completion event. Retries up to 3
// times with exponential backoff before giving up.
func (c *AchievementClient) NotifySessionCompleted(ctx context.Context, userID int, sessionID uuid.UUID) error {
	data, err := json.Marshal(sessionCompletedEvent{UserID: userID, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.serverURL+"/api/v1/achievements/session-completed", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
			return nil
		}
		lastErr = fmt.Errorf("notify failed (status %d): %s", resp.StatusCode, body)
	}

	return fmt.Errorf("after 3 attempts: %w", lastErr)
}
