package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrDisabled = errors.New("push notifications disabled")

// Gateway talks to an HTTP push gateway:
//
//	GET    {base}/permission            -> {"granted": bool}
//	PUT    {base}/notifications/{id}    <- {"fireAt": ..., "payload": {...}} -> {"id": "..."}
//	DELETE {base}/notifications/{id}
type Gateway struct {
	base   string
	client *http.Client
}

func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type permissionResp struct {
	Granted bool `json:"granted"`
}

type scheduleReq struct {
	FireAt  time.Time `json:"fireAt"`
	Payload Payload   `json:"payload"`
}

type scheduleResp struct {
	ID string `json:"id"`
}

func (g *Gateway) RequestPermission(ctx context.Context) (bool, error) {
	var out permissionResp
	if err := g.do(ctx, http.MethodGet, "/permission", nil, &out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

func (g *Gateway) ScheduleAt(ctx context.Context, id string, fireAt time.Time, p Payload) (string, error) {
	var out scheduleResp
	if err := g.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id), scheduleReq{FireAt: fireAt, Payload: p}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.ID, nil
}

// Cancel treats an unknown registration as already cancelled.
func (g *Gateway) Cancel(ctx context.Context, id string) error {
	err := g.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// StatusError reports a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push gateway HTTP %d: %s", e.Code, e.Body)
}

func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode push request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode push response: %w", err)
		}
	}
	return nil
}
