package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSESink relays events to the sibling web service, which fans them out to
// browsers over server-sent events. Fire-and-forget per event.
type SSESink struct {
	apiBase string
	http    *http.Client
}

// NewSSESink creates a sink posting to {apiBase}/context/cards/{cardId}/broadcast.
func NewSSESink(apiBase string) *SSESink {
	return &SSESink{
		apiBase: apiBase,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SSESink) Name() string {
	return "sse"
}

func (s *SSESink) Emit(ctx context.Context, event Event) error {
	if event.CardID == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE event: %w", err)
	}

	url := fmt.Sprintf("%s/context/cards/%s/broadcast", s.apiBase, event.CardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build SSE request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("SSE relay unreachable: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SSE relay returned %d", resp.StatusCode)
	}
	return nil
}

func (s *SSESink) Close() error {
	return nil
}
