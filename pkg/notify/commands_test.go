package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/bus"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/fanout"
)

func message(t *testing.T, topic string, v any) bus.Message {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bus.Message{Topic: topic, Body: body}
}

func TestCommands_ThankYou(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cmds := NewCommands(e.center)

	_, err := e.pub.Publish(ctx, fanout.TipEvent{TipperID: 7, ReceiverID: 9, VideoID: 42, Amount: 3})
	require.NoError(t, err)
	recs, err := e.timeline.Page(ctx, 9, core.Cursor{}, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	msg := message(t, TopicThankYou, ThankYouCommand{Key: recs[0].Key(), Text: "ty"})
	require.NoError(t, cmds.Handle(ctx, msg))
	require.NoError(t, cmds.Handle(ctx, msg), "redelivery is a no-op")

	page, err := e.center.Page(ctx, 7, core.Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
}

func TestCommands_DropsHopelessCommands(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cmds := NewCommands(e.center)

	tests := []struct {
		name string
		msg  bus.Message
	}{
		{"malformed", bus.Message{Topic: TopicThankYou, Body: []byte("{")}},
		{"missing notification", message(t, TopicThankYou, ThankYouCommand{Key: core.NotificationKey{UserID: 1, Timestamp: 1, UUID: "x"}})},
		{"zero user", message(t, TopicResetUnread, UserCommand{})},
		{"unknown", bus.Message{Topic: "command.nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cmds.Handle(ctx, tt.msg)
			require.Error(t, err)
			assert.True(t, bus.IsDrop(err))
		})
	}
}

func TestCommands_UnreadAndVisit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cmds := NewCommands(e.center)

	_, err := e.pub.Publish(ctx, fanout.TipEvent{TipperID: 7, ReceiverID: 9, VideoID: 42, Amount: 3})
	require.NoError(t, err)

	require.NoError(t, cmds.Handle(ctx, message(t, TopicResetUnread, UserCommand{UserID: 9})))
	require.NoError(t, cmds.Handle(ctx, message(t, TopicMarkVisited, UserCommand{UserID: 9})))

	v, err := e.center.Unread(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, v.UnreadCount)
	assert.NotNil(t, v.LastVisitedAt)
	assert.ElementsMatch(t, []string{TopicThankYou, TopicResetUnread, TopicMarkVisited}, cmds.Topics())
}
