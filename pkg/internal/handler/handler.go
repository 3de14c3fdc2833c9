// Package handler provides reflection-based hook handler execution.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	rawType     = reflect.TypeOf(json.RawMessage(nil))
)

// Validator is implemented by payload types that check themselves after
// decoding. A failed check is not retried.
type Validator interface {
	Validate() error
}

// Handler holds metadata about a registered hook handler.
type Handler struct {
	Fn         reflect.Value
	ArgsType   reflect.Type
	HasContext bool
	HasResult  bool

	Policy  core.RetryPolicy
	Timeout time.Duration
}

// NewHandler creates a Handler from a function.
// The function must have signature: func(ctx context.Context, payload T) error
// or func(ctx context.Context, payload T) (R, error). R is stored as the
// success response.
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	h := &Handler{Fn: fnVal, Policy: core.DefaultRetryPolicy()}

	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}

	argIdx := 0
	if fnType.In(0).Implements(contextType) {
		h.HasContext = true
		argIdx = 1
	}
	if argIdx < numIn {
		h.ArgsType = fnType.In(argIdx)
	}

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("handler must return error")
		}
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("handler must return (R, error)")
		}
		h.HasResult = true
	default:
		return nil, fmt.Errorf("handler must return error or (R, error)")
	}

	return h, nil
}

// Execute decodes payload, runs the handler and returns its response
// encoded as JSON. Decode and validation failures are wrapped in
// core.NoRetry since the same payload can never succeed.
func (h *Handler) Execute(ctx context.Context, payload []byte) (json.RawMessage, error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return nil, fmt.Errorf("handler function is nil or invalid")
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	var args []reflect.Value
	if h.HasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	if h.ArgsType != nil {
		argVal := reflect.New(h.ArgsType)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, argVal.Interface()); err != nil {
				return nil, core.NoRetry(fmt.Errorf("failed to unmarshal payload: %w", err))
			}
		}
		if v, ok := argVal.Interface().(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, core.NoRetry(fmt.Errorf("invalid payload: %w", err))
			}
		}
		args = append(args, argVal.Elem())
	}

	results := h.Fn.Call(args)

	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		var resp json.RawMessage
		if h.HasResult {
			resp = encodeResult(results[0])
		}
		return resp, errVal.Interface().(error)
	}
	if !h.HasResult {
		return nil, nil
	}
	return encodeResult(results[0]), nil
}

func encodeResult(v reflect.Value) json.RawMessage {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		raw := v.Convert(rawType).Interface().(json.RawMessage)
		if json.Valid(raw) {
			return raw
		}
		out, _ := json.Marshal(string(raw))
		return out
	}
	out, err := json.Marshal(v.Interface())
	if err != nil {
		return nil
	}
	return out
}
