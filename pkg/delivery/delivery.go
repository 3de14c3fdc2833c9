// Package delivery performs the side effect behind each hook kind: push
// notifications through Firebase Cloud Messaging, HTTP calls to the email
// service API and outbound event webhooks.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/template"
)

// Deliverer sends one hook payload. The response is persisted on the hook
// row whether or not err is nil.
type Deliverer interface {
	Deliver(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error)
}

// Func adapts a function to a Deliverer.
type Func func(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error)

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, kind, payload)
}

// Handler adapts d to a queue handler for kind.
func Handler(d Deliverer, kind core.HookKind) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return d.Deliver(ctx, kind, payload)
	}
}

// PushPayload is the body of a push_notification hook: enough to render
// the device notification without reading the timeline.
type PushPayload struct {
	UserID   uint64                      `json:"user_id"`
	Key      core.NotificationKey        `json:"key"`
	Kind     core.NotificationKind       `json:"kind"`
	Heading  string                      `json:"heading"`
	Includes map[string]template.Include `json:"includes,omitempty"`
	Image    template.Image              `json:"image"`
	Goto     template.Goto               `json:"goto"`
}

// UniqueKey is the dedup key of the push for one timeline record.
func (p PushPayload) UniqueKey() string {
	if p.Key.UUID == "" {
		return ""
	}
	return fmt.Sprintf("push:%d:%s", p.UserID, p.Key.UUID)
}

// Validate rejects payloads that cannot be addressed to a user.
func (p PushPayload) Validate() error {
	if p.UserID == 0 {
		return errors.New("push payload: user_id is required")
	}
	if p.Heading == "" {
		return errors.New("push payload: heading is required")
	}
	return nil
}

// Text renders the heading with includes replaced by names.
func (p PushPayload) Text(names func(slot string, inc template.Include) string) string {
	r := template.Rendered{Heading: p.Heading, Includes: p.Includes}
	return r.Text(names)
}

// APIRequest is the body of an email service API or event webhook hook.
type APIRequest struct {
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Validate rejects requests without a target path.
func (r APIRequest) Validate() error {
	if r.Path == "" {
		return errors.New("api request: path is required")
	}
	return nil
}

// Log writes every payload to a logger and reports success. It stands in
// for real transports in development.
type Log struct {
	Logger *slog.Logger
}

// Deliver logs the payload and reports success.
func (l Log) Deliver(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "delivered hook", "kind", kind, "payload", string(payload))
	return json.RawMessage(`{"logged":true}`), nil
}

// Mux routes each hook kind to its deliverer.
type Mux map[core.HookKind]Deliverer

// Deliver forwards to the deliverer registered for kind.
func (m Mux) Deliver(ctx context.Context, kind core.HookKind, payload json.RawMessage) (json.RawMessage, error) {
	d, ok := m[kind]
	if !ok {
		return nil, core.NoRetry(fmt.Errorf("%w: %q", core.ErrNoHandler, kind))
	}
	return d.Deliver(ctx, kind, payload)
}

func decode(payload json.RawMessage, v interface{ Validate() error }) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return core.NoRetry(fmt.Errorf("decode payload: %w", err))
	}
	if err := v.Validate(); err != nil {
		return core.NoRetry(err)
	}
	return nil
}
