package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Send posts p as JSON. The ledger acknowledges with {"status":"success"};
// anything else is a rejection.
func (c *HTTPClient) Send(ctx context.Context, p Payload) error {
	if c.url == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", p.PayloadType(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	// Apps Script web apps only skip the CORS preflight for text/plain.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 || parsed.Status != "success" {
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%w: status=%d %s", ErrRejected, resp.StatusCode, msg)
	}
	return nil
}
