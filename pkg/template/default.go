package template

import "github.com/pepolabs/hookpipe/pkg/core"

// Heading versions shared by kinds that address the recipient differently
// when they are the subject of the notification.
const (
	VersionSelf      = 1
	VersionBystander = 2
)

// Event assembles the template input of a notification. Paths in the
// default config address it as actor_ids.N, actor_count, subject_user_id
// and payload.<field>.
func Event(actorIDs []uint64, subjectUserID uint64, payload map[string]any) map[string]any {
	ev := map[string]any{
		"actor_ids":   actorIDs,
		"actor_count": len(actorIDs),
	}
	if subjectUserID != 0 {
		ev["subject_user_id"] = subjectUserID
	}
	if payload != nil {
		ev["payload"] = payload
	}
	return ev
}

// EventFromRecord rebuilds the template input from a stored record.
func EventFromRecord(rec *core.NotificationRecord) map[string]any {
	ev := Event([]uint64(rec.ActorIDs), rec.SubjectUserID, map[string]any(rec.Payload))
	ev["actor_count"] = rec.ActorCount
	return ev
}

// subjectSelector picks VersionSelf when the recipient is the subject.
func subjectSelector(event map[string]any, recipientID uint64) int {
	if v, ok := Lookup(event, "subject_user_id"); ok {
		if id, ok := v.(uint64); ok && id == recipientID {
			return VersionSelf
		}
		if f, ok := v.(float64); ok && uint64(f) == recipientID {
			return VersionSelf
		}
	}
	return VersionBystander
}

var (
	actor   = Var{Path: "actor_ids.0", Entity: EntityUser}
	subject = Var{Path: "subject_user_id", Entity: EntityUser}
	channel = Var{Path: "payload.channel_id", Entity: EntityChannel}
)

// Default returns the template table for every notification kind.
func Default() Config {
	return Config{
		core.NotificationTipReceived: {
			Headings: map[int]Heading{
				1: {
					Text: "{{actor}} sent you {{amount}} tokens",
					Vars: map[string]Var{"actor": actor, "amount": {Path: "payload.amount"}},
				},
			},
			DefaultVersion: 1,
			Payload: map[string]Var{
				"amount":   {Path: "payload.amount"},
				"video_id": {Path: "payload.video_id"},
			},
			Image: ImageActor,
			Goto: DeepLink{
				Target: "video",
				Params: map[string]Var{"video_id": {Path: "payload.video_id"}},
			},
		},

		core.NotificationThankYouReceived: {
			Headings: map[int]Heading{
				1: {
					Text: "{{actor}} thanked you for your tip",
					Vars: map[string]Var{"actor": actor},
				},
			},
			DefaultVersion: 1,
			Payload: map[string]Var{
				"text":     {Path: "payload.text", Optional: true},
				"video_id": {Path: "payload.video_id", Optional: true},
			},
			Image: ImageActor,
			Goto: DeepLink{
				Target: "profile",
				Params: map[string]Var{"user_id": {Path: "actor_ids.0"}},
			},
		},

		core.NotificationMention: {
			Headings: map[int]Heading{
				VersionSelf: {
					Text: "{{actor}} mentioned you in a reply",
					Vars: map[string]Var{"actor": actor},
				},
				VersionBystander: {
					Text: "{{actor}} mentioned you in a reply on {{subject}}'s video",
					Vars: map[string]Var{"actor": actor, "subject": subject},
				},
			},
			DefaultVersion: VersionSelf,
			SelectVersion:  subjectSelector,
			Payload: map[string]Var{
				"reply_id":    {Path: "payload.reply_id"},
				"parent_kind": {Path: "payload.parent_kind"},
				"parent_id":   {Path: "payload.parent_id"},
			},
			Image: ImageActor,
			Goto: DeepLink{
				Target: "reply",
				Params: map[string]Var{
					"reply_id":  {Path: "payload.reply_id"},
					"parent_id": {Path: "payload.parent_id"},
				},
			},
		},

		core.NotificationReplyThread: {
			Headings: map[int]Heading{
				VersionSelf: {
					Text: "{{actor}} replied on your video",
					Vars: map[string]Var{"actor": actor},
				},
				VersionBystander: {
					Text: "{{actor}} also replied on {{subject}}'s video",
					Vars: map[string]Var{"actor": actor, "subject": subject},
				},
			},
			DefaultVersion: VersionSelf,
			SelectVersion:  subjectSelector,
			Payload: map[string]Var{
				"reply_id":  {Path: "payload.reply_id"},
				"parent_id": {Path: "payload.parent_id"},
			},
			Image: ImageActor,
			Goto: DeepLink{
				Target: "reply",
				Params: map[string]Var{
					"reply_id":  {Path: "payload.reply_id"},
					"parent_id": {Path: "payload.parent_id"},
				},
			},
		},

		core.NotificationChannelLive: {
			Headings: map[int]Heading{
				1: {
					Text: "{{channel}} is live now",
					Vars: map[string]Var{"channel": channel},
				},
			},
			DefaultVersion: 1,
			Payload: map[string]Var{
				"channel_id": {Path: "payload.channel_id"},
				"stream_id":  {Path: "payload.stream_id"},
				"title":      {Path: "payload.title", Optional: true},
			},
			Image: ImageSubject,
			Goto: DeepLink{
				Target: "channel_live",
				Params: map[string]Var{
					"channel_id": {Path: "payload.channel_id"},
					"stream_id":  {Path: "payload.stream_id"},
				},
			},
		},

		core.NotificationChannelVideo: {
			Headings: map[int]Heading{
				1: {
					Text: "{{actor}} posted a new video in {{channel}}",
					Vars: map[string]Var{"actor": actor, "channel": channel},
				},
			},
			DefaultVersion: 1,
			Payload: map[string]Var{
				"channel_id": {Path: "payload.channel_id"},
				"video_id":   {Path: "payload.video_id"},
			},
			Image: ImageActor,
			Goto: DeepLink{
				Target: "video",
				Params: map[string]Var{"video_id": {Path: "payload.video_id"}},
			},
		},
	}
}
