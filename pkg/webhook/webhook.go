// Package webhook notifies an external URL of model store mutations,
// grounded on the teacher's pkg/webhook/service.go (same fire-on-event
// POST, same 4xx-is-an-error treatment). The teacher notifies on image
// push/delete; here the events are pull/push/delete/create/copy.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Event struct {
	Action    string    `json:"action"` // "pull", "push", "delete", "create", "copy"
	Name      string    `json:"name"`
	Tag       string    `json:"tag"`
	Digest    string    `json:"digest,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	url    string
	client *http.Client
}

func New(url string) *Service {
	return &Service{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

// Notify is a no-op when no URL is configured. Errors are returned, not
// swallowed — callers log-and-continue the same way the teacher's
// handlers do rather than failing the mutation itself.
func (s *Service) Notify(ctx context.Context, event Event) error {
	if s == nil || s.url == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
