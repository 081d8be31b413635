package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskpulse/internal/domain"
)

// HTTP delivers task snapshots as a JSON POST.
type HTTP struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

type deliverReq struct {
	Tasks  []domain.Task `json:"tasks"`
	SentAt time.Time     `json:"sentAt"`
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{URL: url, client: &http.Client{Timeout: timeout}}
}

// Deliver posts the snapshot. Any response status of 400 or above fails the
// delivery and the body is kept in the error.
func (h *HTTP) Deliver(ctx context.Context, tasks []domain.Task) error {
	if h.URL == "" {
		return fmt.Errorf("%w: no sync URL configured", ErrUnavailable)
	}
	body, err := json.Marshal(deliverReq{Tasks: tasks, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode %d tasks: %w", len(tasks), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", h.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("sync server answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
