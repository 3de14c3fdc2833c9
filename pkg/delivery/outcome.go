package delivery

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// ResponseStore keeps the last delivery outcome on a timeline record.
type ResponseStore interface {
	SetDeliveryResponse(ctx context.Context, key core.NotificationKey, response json.RawMessage) error
}

// PushOutcomes copies the result of push hooks onto the records they
// announce. Register Processed and Terminal on the notification queue.
type PushOutcomes struct {
	Store  ResponseStore
	Logger *slog.Logger
}

type pushOutcome struct {
	HookID      uint64          `json:"hook_id"`
	Status      core.HookStatus `json:"status"`
	FailedCount int             `json:"failed_count,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// Processed records a delivered push.
func (o PushOutcomes) Processed(ctx context.Context, h *core.Hook) {
	o.record(ctx, h, json.RawMessage(h.SuccessResponse))
}

// Terminal records a push that will not be retried.
func (o PushOutcomes) Terminal(ctx context.Context, h *core.Hook, _ error) {
	o.record(ctx, h, json.RawMessage(h.FailedResponse))
}

func (o PushOutcomes) record(ctx context.Context, h *core.Hook, resp json.RawMessage) {
	if h.Kind != core.KindPushNotification {
		return
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var p PushPayload
	if err := json.Unmarshal(h.Payload, &p); err != nil || p.Key.UUID == "" {
		return
	}
	if len(resp) > 0 && !json.Valid(resp) {
		resp = nil
	}
	body, err := json.Marshal(pushOutcome{HookID: h.ID, Status: h.Status, FailedCount: h.FailedCount, Response: resp})
	if err != nil {
		return
	}
	if err := o.Store.SetDeliveryResponse(ctx, p.Key, body); err != nil {
		logger.Warn("failed to record push outcome", "hook_id", h.ID, "user_id", p.Key.UserID, "error", err)
	}
}
