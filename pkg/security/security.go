package security

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// Limits enforced on hooks and worker configuration.
const (
	// MaxHookKindLength is the maximum length for hook kind names
	MaxHookKindLength = 64

	// MaxPayloadSize is the maximum size in bytes for a hook payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxBatchSize caps rows claimed per cycle, bounding lock hold time
	MaxBatchSize = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxUniqueKeyLength is the maximum length for unique keys
	MaxUniqueKeyLength = 255
)

var (
	validHookKind  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)
	validTableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateHookKind validates a hook kind name
func ValidateHookKind(kind core.HookKind) error {
	if kind == "" {
		return core.ErrInvalidHookKind
	}
	if len(kind) > MaxHookKindLength {
		return core.ErrHookKindTooLong
	}
	if !validHookKind.MatchString(string(kind)) {
		return core.ErrInvalidHookKind
	}
	return nil
}

// ValidateTableName guards table names that end up in raw index DDL.
func ValidateTableName(name string) error {
	if len(name) == 0 || len(name) > 63 || !validTableName.MatchString(name) {
		return core.ErrInvalidTableName
	}
	return nil
}

// ValidatePayload checks the payload size.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// FailureResponse builds the JSON blob stored in failed_response.
// A valid JSON response from the deliverer is kept under "response".
func FailureResponse(err error, response []byte) json.RawMessage {
	body := map[string]any{}
	if err != nil {
		body["error"] = SanitizeErrorMessage(err.Error())
	}
	if len(response) > 0 && len(response) <= MaxPayloadSize && json.Valid(response) {
		body["response"] = json.RawMessage(response)
	}
	out, mErr := json.Marshal(body)
	if mErr != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampBatchSize ensures the claim batch size is within limits
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// ValidateUniqueKey validates a unique key length
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return core.ErrUniqueKeyTooLong
	}
	return nil
}
