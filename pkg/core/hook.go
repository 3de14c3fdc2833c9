package core

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// HookStatus represents the stored state of a hook row.
// A row is being processed exactly when its LockID is set; there is no
// separate "processing" status.
type HookStatus string

const (
	StatusPending   HookStatus = "pending"
	StatusProcessed HookStatus = "processed"
	StatusFailed    HookStatus = "failed"
	StatusIgnored   HookStatus = "ignored"
)

// IsTerminal reports whether a row in this status is never claimed again.
func (s HookStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusIgnored
}

// HookKind selects the delivery handler for a hook.
type HookKind string

const (
	KindPushNotification      HookKind = "push_notification"
	KindSendTransactionalMail HookKind = "send_transactional_mail"
	KindAddContact            HookKind = "add_contact"
	KindUpdateContact         HookKind = "update_contact"
	KindEventWebhook          HookKind = "event_webhook"
)

// Hook tables. All of them share the Hook shape.
const (
	TableNotificationHooks        = "notification_hooks"
	TableEmailServiceAPICallHooks = "email_service_api_call_hooks"
	TableWebhookEventHooks        = "webhook_event_hooks"
)

// Hook is one durable unit of queued work.
// Indexes are created per table by the store's Migrate because the same
// struct backs several tables.
type Hook struct {
	ID                 uint64         `gorm:"primaryKey;autoIncrement"`
	Kind               HookKind       `gorm:"size:64;not null"`
	Payload            datatypes.JSON `gorm:"not null"`
	UniqueKey          *string        `gorm:"size:255"`
	ExecutionTimestamp time.Time      `gorm:"not null"`
	LockID             *string        `gorm:"size:128"`
	LockedAt           *time.Time
	Status             HookStatus `gorm:"size:20;not null;default:'pending'"`
	FailedCount        int        `gorm:"not null;default:0"`
	SuccessResponse    datatypes.JSON
	FailedResponse     datatypes.JSON
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// Locked reports whether a worker currently owns the row.
func (h *Hook) Locked() bool {
	return h.LockID != nil
}

// Decode unmarshals the payload into v.
func (h *Hook) Decode(v any) error {
	return json.Unmarshal(h.Payload, v)
}

// ClaimRequest describes one claim attempt against a hook table.
type ClaimRequest struct {
	// Token is the lock owner written into claimed rows.
	Token string
	// Limit caps the number of rows claimed.
	Limit int
	// Now is the claim instant; rows with a later execution timestamp are skipped.
	Now time.Time
	// RetryLimits bounds failed_count per kind for retryable claims.
	RetryLimits map[HookKind]int
	// DefaultRetryLimit applies to kinds missing from RetryLimits.
	DefaultRetryLimit int
}

// RetryLimitFor returns the retry limit used for kind.
func (r ClaimRequest) RetryLimitFor(kind HookKind) int {
	if limit, ok := r.RetryLimits[kind]; ok {
		return limit
	}
	return r.DefaultRetryLimit
}
