package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
)

const maxResponseBody = 64 << 10

// HTTP sends APIRequest hooks to a JSON API rooted at BaseURL.
//
// 2xx responses succeed. 429 is retried after the Retry-After header (one
// minute when absent), other 4xx responses are not retried and everything
// else is an ordinary retryable failure.
type HTTP struct {
	BaseURL string
	Client  *http.Client
	Headers map[string]string
}

// NewHTTP creates an HTTP deliverer with a client timeout.
func NewHTTP(baseURL string, timeout time.Duration, headers map[string]string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Headers: headers,
	}
}

type httpResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Text   string          `json:"text,omitempty"`
}

func (d *HTTP) Deliver(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error) {
	var req APIRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, d.BaseURL+"/"+strings.TrimLeft(req.Path, "/"), body)
	if err != nil {
		return nil, core.NoRetry(fmt.Errorf("build request: %w", err))
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Hook-Kind", string(kind))
	for k, v := range d.Headers {
		hreq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	out := httpResponse{Status: res.StatusCode}
	if json.Valid(raw) {
		out.Body = raw
	} else {
		out.Text = string(raw)
	}
	resp, _ := json.Marshal(out)

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return resp, nil
	case res.StatusCode == http.StatusTooManyRequests:
		return resp, core.RetryAfter(retryAfter(res.Header.Get("Retry-After")), fmt.Errorf("%s %s: rate limited", method, req.Path))
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return resp, core.NoRetry(fmt.Errorf("%s %s: status %d", method, req.Path, res.StatusCode))
	default:
		return resp, fmt.Errorf("%s %s: status %d", method, req.Path, res.StatusCode)
	}
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Minute
}
