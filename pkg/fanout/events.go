package fanout

import (
	"time"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// TipEvent: TipperID sent Amount tokens to ReceiverID on VideoID.
type TipEvent struct {
	TipperID   uint64    `json:"tipper_id"`
	ReceiverID uint64    `json:"receiver_id"`
	VideoID    uint64    `json:"video_id"`
	Amount     uint64    `json:"amount"`
	At         time.Time `json:"at"`
}

// Kind implements Source.
func (e TipEvent) Kind() core.NotificationKind { return core.NotificationTipReceived }

// Validate implements Source.
func (e TipEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	return p.check("tipper_id", e.TipperID).
		check("receiver_id", e.ReceiverID).
		check("video_id", e.VideoID).
		check("amount", e.Amount).
		err()
}

// Build implements Source.
func (e TipEvent) Build() Notification {
	return Notification{
		ActorIDs:      []uint64{e.TipperID},
		SubjectUserID: e.ReceiverID,
		Payload:       map[string]any{"video_id": e.VideoID, "amount": e.Amount},
		Timestamp:     e.At,
	}
}

// Recipients is the receiver, unless they tipped themselves.
func (e TipEvent) Recipients(Deps) Resolver { return Single(e.ReceiverID, e.TipperID) }

// ThankYouEvent: SenderID thanked TipperID for a tip. TipUUID names the
// thanked tip record, so two thank-yous for different tips stay distinct.
type ThankYouEvent struct {
	SenderID uint64    `json:"sender_id"`
	TipperID uint64    `json:"tipper_id"`
	VideoID  uint64    `json:"video_id,omitempty"`
	TipUUID  string    `json:"tip_uuid,omitempty"`
	Text     string    `json:"text,omitempty"`
	At       time.Time `json:"at"`
}

// Kind implements Source.
func (e ThankYouEvent) Kind() core.NotificationKind { return core.NotificationThankYouReceived }

// Validate implements Source.
func (e ThankYouEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	return p.check("sender_id", e.SenderID).check("tipper_id", e.TipperID).err()
}

// Build carries the thank-you text and the tip it answers.
func (e ThankYouEvent) Build() Notification {
	payload := map[string]any{}
	if e.Text != "" {
		payload["text"] = e.Text
	}
	if e.VideoID != 0 {
		payload["video_id"] = e.VideoID
	}
	if e.TipUUID != "" {
		payload["tip_uuid"] = e.TipUUID
	}
	return Notification{
		ActorIDs:      []uint64{e.SenderID},
		SubjectUserID: e.TipperID,
		Payload:       payload,
		Timestamp:     e.At,
	}
}

// Recipients is the tipper who is being thanked.
func (e ThankYouEvent) Recipients(Deps) Resolver { return Single(e.TipperID, e.SenderID) }

// MentionEvent: ActorID mentioned MentionedIDs in reply ReplyID on a parent
// owned by OwnerID.
type MentionEvent struct {
	ActorID      uint64    `json:"actor_id"`
	MentionedIDs []uint64  `json:"mentioned_ids"`
	ReplyID      uint64    `json:"reply_id"`
	ParentKind   string    `json:"parent_kind"`
	ParentID     uint64    `json:"parent_id"`
	OwnerID      uint64    `json:"owner_id"`
	At           time.Time `json:"at"`
}

// Kind implements Source.
func (e MentionEvent) Kind() core.NotificationKind { return core.NotificationMention }

// Validate implements Source.
func (e MentionEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	p.check("actor_id", e.ActorID).
		check("reply_id", e.ReplyID).
		check("parent_id", e.ParentID).
		check("owner_id", e.OwnerID)
	for _, id := range e.MentionedIDs {
		if id == 0 {
			p.check("mentioned_ids", 0)
			break
		}
	}
	return p.err()
}

// Build implements Source.
func (e MentionEvent) Build() Notification {
	return Notification{
		ActorIDs:      []uint64{e.ActorID},
		SubjectUserID: e.OwnerID,
		Payload: map[string]any{
			"reply_id":    e.ReplyID,
			"parent_kind": e.ParentKind,
			"parent_id":   e.ParentID,
		},
		Timestamp: e.At,
	}
}

// Recipients are the mentioned users other than the author.
func (e MentionEvent) Recipients(Deps) Resolver { return List(e.MentionedIDs, e.ActorID) }

// ReplyThreadEvent: ActorID replied in the thread of a parent created by
// CreatorID. Followers of the thread and the creator are notified.
type ReplyThreadEvent struct {
	ActorID    uint64    `json:"actor_id"`
	ReplyID    uint64    `json:"reply_id"`
	ParentKind string    `json:"parent_kind"`
	ParentID   uint64    `json:"parent_id"`
	CreatorID  uint64    `json:"creator_id"`
	At         time.Time `json:"at"`
}

// Kind implements Source.
func (e ReplyThreadEvent) Kind() core.NotificationKind { return core.NotificationReplyThread }

// Validate implements Source.
func (e ReplyThreadEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	return p.check("actor_id", e.ActorID).
		check("reply_id", e.ReplyID).
		check("parent_id", e.ParentID).
		check("creator_id", e.CreatorID).
		err()
}

// Build implements Source.
func (e ReplyThreadEvent) Build() Notification {
	return Notification{
		ActorIDs:      []uint64{e.ActorID},
		SubjectUserID: e.CreatorID,
		Payload:       map[string]any{"reply_id": e.ReplyID, "parent_id": e.ParentID},
		Timestamp:     e.At,
	}
}

// Recipients follow the parent, excluding the replier and the creator.
func (e ReplyThreadEvent) Recipients(d Deps) Resolver {
	return Followers(d.Followers, e.ParentKind, e.ParentID, e.ActorID, e.CreatorID)
}

// ChannelLiveEvent: HostID started stream StreamID in ChannelID.
type ChannelLiveEvent struct {
	ChannelID uint64    `json:"channel_id"`
	HostID    uint64    `json:"host_id"`
	StreamID  uint64    `json:"stream_id"`
	Title     string    `json:"title,omitempty"`
	At        time.Time `json:"at"`
}

// Kind implements Source.
func (e ChannelLiveEvent) Kind() core.NotificationKind { return core.NotificationChannelLive }

// Validate implements Source.
func (e ChannelLiveEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	return p.check("channel_id", e.ChannelID).
		check("host_id", e.HostID).
		check("stream_id", e.StreamID).
		err()
}

// Build implements Source.
func (e ChannelLiveEvent) Build() Notification {
	payload := map[string]any{"channel_id": e.ChannelID, "stream_id": e.StreamID}
	if e.Title != "" {
		payload["title"] = e.Title
	}
	return Notification{
		ActorIDs:      []uint64{e.HostID},
		SubjectUserID: e.HostID,
		Payload:       payload,
		Timestamp:     e.At,
	}
}

// Recipients are the channel's active unmuted members.
func (e ChannelLiveEvent) Recipients(d Deps) Resolver {
	return ChannelScan(d.Members, e.ChannelID, e.HostID, d.PageSize)
}

// ChannelVideoEvent: CreatorID posted VideoID in ChannelID.
type ChannelVideoEvent struct {
	ChannelID uint64    `json:"channel_id"`
	CreatorID uint64    `json:"creator_id"`
	VideoID   uint64    `json:"video_id"`
	At        time.Time `json:"at"`
}

// Kind implements Source.
func (e ChannelVideoEvent) Kind() core.NotificationKind { return core.NotificationChannelVideo }

// Validate implements Source.
func (e ChannelVideoEvent) Validate() error {
	p := &positive{kind: e.Kind()}
	return p.check("channel_id", e.ChannelID).
		check("creator_id", e.CreatorID).
		check("video_id", e.VideoID).
		err()
}

// Build implements Source.
func (e ChannelVideoEvent) Build() Notification {
	return Notification{
		ActorIDs:  []uint64{e.CreatorID},
		Payload:   map[string]any{"channel_id": e.ChannelID, "video_id": e.VideoID},
		Timestamp: e.At,
	}
}

// Recipients are the channel's active unmuted members.
func (e ChannelVideoEvent) Recipients(d Deps) Resolver {
	return ChannelScan(d.Members, e.ChannelID, e.CreatorID, d.PageSize)
}
