package core

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationKind selects template, payload shape and deep link of a notification.
type NotificationKind string

const (
	NotificationTipReceived      NotificationKind = "tip_received"
	NotificationThankYouReceived NotificationKind = "thank_you_received"
	NotificationMention          NotificationKind = "mention"
	NotificationReplyThread      NotificationKind = "reply_thread"
	NotificationChannelLive      NotificationKind = "channel_live"
	NotificationChannelVideo     NotificationKind = "channel_video"
)

// NotificationRecord is one notification in a recipient's timeline.
// Only ThankYouFlag, ThankYouText and DeliveryResponse change after insert.
// (UserID, UUID) is unique on its own so a replayed event maps onto the
// record it already wrote.
type NotificationRecord struct {
	UserID              uint64                      `gorm:"primaryKey;autoIncrement:false;uniqueIndex:uq_user_notifications_user_uuid,priority:1"`
	LastActionTimestamp int64                       `gorm:"primaryKey;autoIncrement:false"`
	UUID                string                      `gorm:"primaryKey;size:36;uniqueIndex:uq_user_notifications_user_uuid,priority:2"`
	Kind                NotificationKind            `gorm:"size:64;not null"`
	ActorIDs            datatypes.JSONSlice[uint64] `gorm:"not null"`
	ActorCount          int                         `gorm:"not null;default:0"`
	SubjectUserID       uint64
	Payload             datatypes.JSONMap
	HeadingVersion      int    `gorm:"not null;default:1"`
	ThankYouFlag        bool   `gorm:"not null;default:false"`
	ThankYouText        string `gorm:"size:1024"`
	DeliveryResponse    datatypes.JSON
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

// TableName pins the timeline table name.
func (NotificationRecord) TableName() string { return "user_notifications" }

// Key returns the identity of the record.
func (r *NotificationRecord) Key() NotificationKey {
	return NotificationKey{UserID: r.UserID, Timestamp: r.LastActionTimestamp, UUID: r.UUID}
}

// NotificationKey is the only handle by which a record is fetched or mutated.
type NotificationKey struct {
	UserID    uint64 `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	UUID      string `json:"uuid"`
}

// Cursor positions a timeline page. Records strictly older than the cursor
// are returned. A zero Before starts from the newest record; an empty UUID
// compares on timestamp only.
type Cursor struct {
	Before int64
	UUID   string
}

// VisitDetail tracks when a user last opened the notification center.
type VisitDetail struct {
	UserID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	LastVisitedAt *time.Time
	UnreadFlag    bool      `gorm:"not null;default:false"`
	UnreadCount   int       `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the visit table name.
func (VisitDetail) TableName() string { return "user_notification_visit_details" }

// MemberStatus is the state of a channel membership.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// ChannelMember is one row of a channel's membership list. ID is the
// internal ordering id used to page through members.
type ChannelMember struct {
	ID                uint64       `gorm:"primaryKey;autoIncrement"`
	ChannelID         uint64       `gorm:"uniqueIndex:uq_channel_members_channel_user;not null"`
	UserID            uint64       `gorm:"uniqueIndex:uq_channel_members_channel_user;not null"`
	Status            MemberStatus `gorm:"size:20;not null;default:'active'"`
	NotificationMuted bool         `gorm:"not null;default:false"`
	CreatedAt         time.Time    `gorm:"autoCreateTime"`
}

// ReplyFollower records a user who replied in a thread and follows it.
type ReplyFollower struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ParentKind string    `gorm:"uniqueIndex:uq_reply_followers;size:32;not null"`
	ParentID   uint64    `gorm:"uniqueIndex:uq_reply_followers;not null"`
	UserID     uint64    `gorm:"uniqueIndex:uq_reply_followers;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// ErrorLog is a persisted out-of-band alert.
type ErrorLog struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"index;size:128;not null"`
	Severity   string `gorm:"size:16;not null"`
	Identifier string `gorm:"size:255"`
	Data       datatypes.JSON
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// DeviceToken is a push registration token of one user device.
type DeviceToken struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:512;not null"`
	Platform  string    `gorm:"size:16"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
