package security

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/core"
)

func TestValidateHookKind_Valid(t *testing.T) {
	validKinds := []core.HookKind{
		core.KindPushNotification,
		core.KindSendTransactionalMail,
		core.KindEventWebhook,
		"a",
		"mail.v2",
		"Send-Email",
	}

	for _, kind := range validKinds {
		assert.NoError(t, ValidateHookKind(kind), "Expected %q to be valid", kind)
	}
}

func TestValidateHookKind_Invalid(t *testing.T) {
	invalidKinds := []core.HookKind{
		"",
		"123-push",
		"-push",
		"push with spaces",
		"push@mail",
		core.HookKind(strings.Repeat("a", 70)),
	}

	for _, kind := range invalidKinds {
		assert.Error(t, ValidateHookKind(kind), "Expected %q to be invalid", kind)
	}
	assert.ErrorIs(t, ValidateHookKind(core.HookKind(strings.Repeat("a", 70))), core.ErrHookKindTooLong)
}

func TestValidateTableName(t *testing.T) {
	assert.NoError(t, ValidateTableName(core.TableNotificationHooks))
	assert.NoError(t, ValidateTableName(core.TableWebhookEventHooks))

	for _, name := range []string{"", "Hooks", "hooks; drop table x", "1hooks", strings.Repeat("a", 64)} {
		assert.ErrorIs(t, ValidateTableName(name), core.ErrInvalidTableName, name)
	}
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload([]byte(`{"a":1}`)))
	assert.ErrorIs(t, ValidatePayload(make([]byte, MaxPayloadSize+1)), core.ErrPayloadTooLarge)
}

func TestSanitizeErrorMessage(t *testing.T) {
	t.Run("empty message", func(t *testing.T) {
		assert.Equal(t, "", SanitizeErrorMessage(""))
	})

	t.Run("strips control characters", func(t *testing.T) {
		assert.Equal(t, "bad\ttoken\n", SanitizeErrorMessage("bad\x00\ttoken\x07\n"))
	})

	t.Run("truncates long message", func(t *testing.T) {
		result := SanitizeErrorMessage(strings.Repeat("x", MaxErrorMessageLength+100))
		assert.Equal(t, MaxErrorMessageLength, len(result))
		assert.True(t, strings.HasSuffix(result, "..."))
	})
}

func TestFailureResponse(t *testing.T) {
	raw := FailureResponse(errors.New("gateway\x00 timeout"), []byte(`{"code":504}`))

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "gateway timeout", body["error"])
	assert.Equal(t, map[string]any{"code": float64(504)}, body["response"])

	raw = FailureResponse(errors.New("x"), []byte("not json"))
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.NotContains(t, body, "response")
}

func TestClampRetries(t *testing.T) {
	assert.Equal(t, 0, ClampRetries(-5))
	assert.Equal(t, 3, ClampRetries(3))
	assert.Equal(t, MaxRetries, ClampRetries(1000))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 10, ClampConcurrency(10))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(5000))
}

func TestClampBatchSize(t *testing.T) {
	assert.Equal(t, 1, ClampBatchSize(-1))
	assert.Equal(t, 25, ClampBatchSize(25))
	assert.Equal(t, MaxBatchSize, ClampBatchSize(1000))
}

func TestValidateUniqueKey(t *testing.T) {
	assert.NoError(t, ValidateUniqueKey("push:9:42"))
	assert.ErrorIs(t, ValidateUniqueKey(strings.Repeat("k", 300)), core.ErrUniqueKeyTooLong)
}
