package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/core"
)

type pushArgs struct {
	UserID uint64 `json:"user_id"`
	Title  string `json:"title"`
}

type validatedArgs struct {
	UserID uint64 `json:"user_id"`
}

func (a *validatedArgs) Validate() error {
	if a.UserID == 0 {
		return errors.New("user_id required")
	}
	return nil
}

type sendResult struct {
	MessageID string `json:"message_id"`
}

// ---------------------------------------------------------------------------
// NewHandler – rejection
// ---------------------------------------------------------------------------

func TestNewHandler_RejectsNil(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewHandler_RejectsTypedNil(t *testing.T) {
	var fn func(ctx context.Context, args pushArgs) error
	_, err := NewHandler(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewHandler_RejectsNonFunction(t *testing.T) {
	_, err := NewHandler("not a function")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function")
}

func TestNewHandler_RejectsBadArity(t *testing.T) {
	_, err := NewHandler(func() error { return nil })
	assert.ErrorContains(t, err, "1-2 arguments")

	_, err = NewHandler(func(_ context.Context, _ string, _ int) error { return nil })
	assert.ErrorContains(t, err, "1-2 arguments")
}

func TestNewHandler_RejectsBadReturns(t *testing.T) {
	_, err := NewHandler(func(_ context.Context, _ pushArgs) {})
	assert.ErrorContains(t, err, "must return")

	_, err = NewHandler(func(_ context.Context, _ pushArgs) string { return "" })
	assert.ErrorContains(t, err, "must return error")

	_, err = NewHandler(func(_ context.Context, _ pushArgs) (string, string) { return "", "" })
	assert.ErrorContains(t, err, "(R, error)")
}

func TestNewHandler_Accepts(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) error { return nil })
	require.NoError(t, err)
	assert.True(t, h.HasContext)
	assert.False(t, h.HasResult)
	assert.Equal(t, core.DefaultRetryPolicy(), h.Policy)

	h, err = NewHandler(func(_ pushArgs) (sendResult, error) { return sendResult{}, nil })
	require.NoError(t, err)
	assert.False(t, h.HasContext)
	assert.True(t, h.HasResult)
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_DecodesPayload(t *testing.T) {
	var got pushArgs
	h, err := NewHandler(func(_ context.Context, a pushArgs) error {
		got = a
		return nil
	})
	require.NoError(t, err)

	resp, err := h.Execute(context.Background(), []byte(`{"user_id":9,"title":"tip"}`))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, pushArgs{UserID: 9, Title: "tip"}, got)
}

func TestExecute_EncodesResult(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) (sendResult, error) {
		return sendResult{MessageID: "m-1"}, nil
	})
	require.NoError(t, err)

	resp, err := h.Execute(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_id":"m-1"}`, string(resp))
}

func TestExecute_RawResultPassesThrough(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) (json.RawMessage, error) {
		return json.RawMessage(`{"status":202}`), nil
	})
	require.NoError(t, err)

	resp, err := h.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":202}`, string(resp))
}

func TestExecute_NonJSONBytesAreQuoted(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) ([]byte, error) {
		return []byte("plain text"), nil
	})
	require.NoError(t, err)

	resp, err := h.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, `"plain text"`, string(resp))
}

func TestExecute_ReturnsHandlerErrorWithResponse(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) (sendResult, error) {
		return sendResult{MessageID: "partial"}, errors.New("gateway timeout")
	})
	require.NoError(t, err)

	resp, err := h.Execute(context.Background(), []byte(`{}`))
	assert.EqualError(t, err, "gateway timeout")
	assert.JSONEq(t, `{"message_id":"partial"}`, string(resp))
}

func TestExecute_BadJSONIsNotRetried(t *testing.T) {
	h, err := NewHandler(func(_ context.Context, _ pushArgs) error { return nil })
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), []byte(`{not json`))
	var noRetry *core.NoRetryError
	assert.True(t, errors.As(err, &noRetry))
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestExecute_ValidatorFailureIsNotRetried(t *testing.T) {
	called := false
	h, err := NewHandler(func(_ context.Context, _ validatedArgs) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), []byte(`{"user_id":0}`))
	var noRetry *core.NoRetryError
	assert.True(t, errors.As(err, &noRetry))
	assert.False(t, called)

	_, err = h.Execute(context.Background(), []byte(`{"user_id":3}`))
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestExecute_AppliesTimeout(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, _ pushArgs) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	h.Timeout = 10 * time.Millisecond

	_, err = h.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_ContextPropagation(t *testing.T) {
	type key struct{}
	var got any
	h, err := NewHandler(func(ctx context.Context, _ pushArgs) error {
		got = ctx.Value(key{})
		return nil
	})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key{}, "v")
	_, err = h.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
