package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/core"
)

func apiRequest(t *testing.T, r APIRequest) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return raw
}

func TestHTTP_Success(t *testing.T) {
	var gotMethod, gotPath, gotKind, gotAuth, gotTrace string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotKind = r.Header.Get("X-Hook-Kind")
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"c-1"}`))
	}))
	defer srv.Close()

	d := NewHTTP(srv.URL+"/", time.Second, map[string]string{"Authorization": "Bearer k"})
	resp, err := d.Deliver(context.Background(), core.KindAddContact, apiRequest(t, APIRequest{
		Path:    "/contacts",
		Headers: map[string]string{"X-Trace": "t1"},
		Body:    json.RawMessage(`{"email":"a@b.c"}`),
	}))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/contacts", gotPath)
	assert.Equal(t, "add_contact", gotKind)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "t1", gotTrace)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(gotBody))
	assert.JSONEq(t, `{"status":202,"body":{"id":"c-1"}}`, string(resp))
}

func TestHTTP_StatusClasses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, "30", func(t *testing.T, err error) {
			var ra *core.RetryAfterError
			require.ErrorAs(t, err, &ra)
			assert.Equal(t, 30*time.Second, ra.Delay)
		}},
		{"rate limited without header", http.StatusTooManyRequests, "", func(t *testing.T, err error) {
			var ra *core.RetryAfterError
			require.ErrorAs(t, err, &ra)
			assert.Equal(t, time.Minute, ra.Delay)
		}},
		{"client error", http.StatusUnprocessableEntity, "", func(t *testing.T, err error) {
			var nr *core.NoRetryError
			assert.ErrorAs(t, err, &nr)
		}},
		{"server error", http.StatusBadGateway, "", func(t *testing.T, err error) {
			require.Error(t, err)
			var nr *core.NoRetryError
			var ra *core.RetryAfterError
			assert.False(t, errors.As(err, &nr))
			assert.False(t, errors.As(err, &ra))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			d := NewHTTP(srv.URL, time.Second, nil)
			resp, err := d.Deliver(context.Background(), core.KindEventWebhook, apiRequest(t, APIRequest{Path: "hook"}))
			tt.check(t, err)

			var out httpResponse
			require.NoError(t, json.Unmarshal(resp, &out))
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, "nope", out.Text)
		})
	}
}

func TestHTTP_MissingPathIsFinal(t *testing.T) {
	d := NewHTTP("http://127.0.0.1:1", time.Second, nil)
	_, err := d.Deliver(context.Background(), core.KindEventWebhook, json.RawMessage(`{"method":"PUT"}`))
	var nr *core.NoRetryError
	assert.ErrorAs(t, err, &nr)
}

func TestHTTP_ConnectionErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewHTTP(url, time.Second, nil)
	_, err := d.Deliver(context.Background(), core.KindEventWebhook, apiRequest(t, APIRequest{Path: "x"}))
	require.Error(t, err)
	var nr *core.NoRetryError
	assert.False(t, errors.As(err, &nr))
}
