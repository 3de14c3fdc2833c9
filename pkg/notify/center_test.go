package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm/logger"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/fanout"
	"github.com/pepolabs/hookpipe/pkg/queue"
	"github.com/pepolabs/hookpipe/pkg/storage"
	"github.com/pepolabs/hookpipe/pkg/template"
)

type keyLog struct{ keys []string }

func (k *keyLog) Invalidate(_ context.Context, keys ...string) error {
	k.keys = append(k.keys, keys...)
	return nil
}

type env struct {
	timeline *storage.GormTimeline
	hooks    core.HookStore
	pub      *fanout.Publisher
	center   *Center
	inv      *keyLog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	tl := storage.NewGormTimeline(db)
	require.NoError(t, tl.Migrate(context.Background()))

	hooks := storage.NewMemoryHookStore(core.TableNotificationHooks)
	q := queue.New(hooks)
	q.Register(core.KindPushNotification, func(context.Context, struct{}) error { return nil })

	engine := template.New(template.Default())
	pub := fanout.NewPublisher(tl, q, engine)
	inv := &keyLog{}
	return &env{
		timeline: tl,
		hooks:    hooks,
		pub:      pub,
		center:   NewCenter(tl, engine, pub, WithInvalidator(inv)),
		inv:      inv,
	}
}

func TestCenter_PageFormatsEntries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := e.pub.Publish(ctx, fanout.TipEvent{
			TipperID: uint64(10 + i), ReceiverID: 9, VideoID: 42, Amount: 100,
			At: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page, err := e.center.Page(ctx, 9, core.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.NotNil(t, page.Next)

	first := page.Entries[0]
	assert.Equal(t, core.NotificationTipReceived, first.Kind)
	assert.Equal(t, "{{actor}} sent you 100 tokens", first.View.Heading)
	assert.Equal(t, uint64(12), first.View.Includes["actor"].ID)
	assert.Equal(t, "video", first.View.Goto.Target)

	rest, err := e.center.Page(ctx, 9, *page.Next, 2)
	require.NoError(t, err)
	require.Len(t, rest.Entries, 1)
	assert.Nil(t, rest.Next)
	assert.Equal(t, uint64(10), rest.Entries[0].View.Includes["actor"].ID)
}

func TestCenter_PageSkipsUnrenderableRecords(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.timeline.Append(ctx, &core.NotificationRecord{
		UserID:              9,
		LastActionTimestamp: 2000,
		Kind:                core.NotificationTipReceived,
		ActorIDs:            datatypes.JSONSlice[uint64]{7},
		Payload:             datatypes.JSONMap{"amount": 5},
	}))
	require.NoError(t, e.timeline.Append(ctx, &core.NotificationRecord{
		UserID:              9,
		LastActionTimestamp: 1000,
		Kind:                core.NotificationTipReceived,
		ActorIDs:            datatypes.JSONSlice[uint64]{7},
		Payload:             datatypes.JSONMap{"amount": 5, "video_id": 1},
	}))

	page, err := e.center.Page(ctx, 9, core.Cursor{}, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, int64(1000), page.Entries[0].Key.Timestamp)
}

func TestCenter_ThankYouIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.pub.Publish(ctx, fanout.TipEvent{TipperID: 7, ReceiverID: 9, VideoID: 42, Amount: 500})
	require.NoError(t, err)
	recs, err := e.timeline.Page(ctx, 9, core.Cursor{}, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	key := recs[0].Key()

	applied, err := e.center.ThankYou(ctx, key, "thank you!")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = e.center.ThankYou(ctx, key, "again")
	require.NoError(t, err)
	assert.False(t, applied)

	rec, err := e.timeline.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.ThankYouFlag)
	assert.Equal(t, "thank you!", rec.ThankYouText)

	tipper, err := e.center.Page(ctx, 7, core.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, tipper.Entries, 1, "tipper is notified exactly once")
	view := tipper.Entries[0].View
	assert.Equal(t, core.NotificationThankYouReceived, view.Kind)
	assert.Equal(t, "thank you!", view.Payload["text"])
	assert.Equal(t, "profile", view.Goto.Target)

	counts, err := e.hooks.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[core.StatusPending], "tip push and thank-you push")
}

func TestCenter_ThankYouRepublishesAfterFailedPublish(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.pub.Publish(ctx, fanout.TipEvent{TipperID: 7, ReceiverID: 9, VideoID: 42, Amount: 500})
	require.NoError(t, err)
	recs, err := e.timeline.Page(ctx, 9, core.Cursor{}, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	key := recs[0].Key()

	// A publisher that does not know thank-you notifications fails the publish
	// after the flag is set.
	kinds := template.Default()
	delete(kinds, core.NotificationThankYouReceived)
	brokenPub := fanout.NewPublisher(e.timeline, queue.New(e.hooks), template.New(kinds))
	broken := NewCenter(e.timeline, template.New(template.Default()), brokenPub)

	applied, err := broken.ThankYou(ctx, key, "thank you!")
	require.Error(t, err)
	assert.True(t, applied)

	tipper, err := e.center.Page(ctx, 7, core.Cursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, tipper.Entries)

	applied, err = e.center.ThankYou(ctx, key, "different text")
	require.NoError(t, err)
	assert.False(t, applied)

	tipper, err = e.center.Page(ctx, 7, core.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, tipper.Entries, 1)
	assert.Equal(t, "thank you!", tipper.Entries[0].View.Payload["text"], "the stored text is published")
}

func TestCenter_ThankYouRejectsOtherKinds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	rec := &core.NotificationRecord{
		UserID:   9,
		Kind:     core.NotificationMention,
		ActorIDs: datatypes.JSONSlice[uint64]{7},
	}
	require.NoError(t, e.timeline.Append(ctx, rec))

	_, err := e.center.ThankYou(ctx, rec.Key(), "x")
	assert.ErrorIs(t, err, ErrNotThankable)

	_, err = e.center.ThankYou(ctx, core.NotificationKey{UserID: 9, Timestamp: 1, UUID: "missing"}, "x")
	assert.ErrorIs(t, err, core.ErrNotificationNotFound)
}

func TestCenter_UnreadLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	e.center.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := e.pub.Publish(ctx, fanout.TipEvent{TipperID: 7, ReceiverID: 9, VideoID: 42, Amount: 1})
		require.NoError(t, err)
	}
	v, err := e.center.Unread(ctx, 9)
	require.NoError(t, err)
	assert.True(t, v.UnreadFlag)
	assert.Equal(t, 2, v.UnreadCount)

	require.NoError(t, e.center.ResetUnread(ctx, 9))
	v, err = e.center.Unread(ctx, 9)
	require.NoError(t, err)
	assert.False(t, v.UnreadFlag)
	assert.Zero(t, v.UnreadCount)

	require.NoError(t, e.center.MarkVisited(ctx, 9))
	v, err = e.center.Unread(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, v.LastVisitedAt)
	assert.True(t, now.Equal(*v.LastVisitedAt))

	assert.Equal(t, []string{"hookpipe:visit:9", "hookpipe:visit:9"}, e.inv.keys)
}

func TestToUint64(t *testing.T) {
	assert.Equal(t, uint64(5), toUint64(uint64(5)))
	assert.Equal(t, uint64(5), toUint64(5))
	assert.Equal(t, uint64(5), toUint64(5.0))
	assert.Equal(t, uint64(42), toUint64(json.Number("42")))
	assert.Zero(t, toUint64(-1))
	assert.Zero(t, toUint64("x"))
	assert.Zero(t, toUint64(nil))
}
