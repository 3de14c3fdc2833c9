// Package notify is the read side of the notification timeline: formatted
// pages, the thank-you action and unread badge handling.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pepolabs/hookpipe/pkg/cache"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/fanout"
	"github.com/pepolabs/hookpipe/pkg/template"
)

// Page sizes.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// ErrNotThankable is returned when thanking a notification that is not a
// received tip.
var ErrNotThankable = errors.New("hookpipe: notification cannot be thanked")

// Publisher publishes fan-out events. *fanout.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, src fanout.Source) (fanout.Result, error)
}

// Entry is one formatted notification.
type Entry struct {
	Key          core.NotificationKey  `json:"key"`
	Kind         core.NotificationKind `json:"kind"`
	ActorCount   int                   `json:"actor_count"`
	ThankYou     bool                  `json:"thank_you"`
	ThankYouText string                `json:"thank_you_text,omitempty"`
	View         *template.Rendered    `json:"view"`
}

// Page is a slice of a user's timeline. Next is nil on the last page.
type Page struct {
	Entries []Entry      `json:"entries"`
	Next    *core.Cursor `json:"next,omitempty"`
}

// Center serves a user's notifications.
type Center struct {
	timeline  core.Timeline
	engine    *template.Engine
	publisher Publisher
	inv       cache.Invalidator
	logger    *slog.Logger
	now       func() time.Time
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithInvalidator sets the cache invalidated after mutations.
func WithInvalidator(inv cache.Invalidator) CenterOption {
	return func(c *Center) {
		if inv != nil {
			c.inv = inv
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CenterOption {
	return func(c *Center) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCenter creates a Center. publisher receives thank-you events.
func NewCenter(tl core.Timeline, engine *template.Engine, publisher Publisher, opts ...CenterOption) *Center {
	c := &Center{
		timeline:  tl,
		engine:    engine,
		publisher: publisher,
		inv:       cache.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Page returns up to limit formatted notifications older than cursor.
// Records whose template no longer validates are skipped and logged.
func (c *Center) Page(ctx context.Context, userID uint64, cursor core.Cursor, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	recs, err := c.timeline.Page(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: load page: %w", err)
	}

	page := &Page{Entries: make([]Entry, 0, len(recs))}
	for _, rec := range recs {
		view, err := c.engine.Render(rec.Kind, rec.HeadingVersion, template.EventFromRecord(rec))
		if err != nil {
			c.logger.Warn("skipping unrenderable notification",
				"user_id", rec.UserID, "uuid", rec.UUID, "kind", rec.Kind, "error", err)
			continue
		}
		page.Entries = append(page.Entries, Entry{
			Key:          rec.Key(),
			Kind:         rec.Kind,
			ActorCount:   rec.ActorCount,
			ThankYou:     rec.ThankYouFlag,
			ThankYouText: rec.ThankYouText,
			View:         view,
		})
	}
	if len(recs) == limit {
		last := recs[len(recs)-1]
		page.Next = &core.Cursor{Before: last.LastActionTimestamp, UUID: last.UUID}
	}
	return page, nil
}

// ThankYou marks a received tip as thanked and notifies the tipper. The
// flag is set at most once and a repeated call returns applied=false. The
// tipper's notification is published on every call with the stored text;
// publishing is idempotent, so a repeat only fills in what an earlier
// failed call left out.
func (c *Center) ThankYou(ctx context.Context, key core.NotificationKey, text string) (applied bool, err error) {
	rec, err := c.timeline.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if rec.Kind != core.NotificationTipReceived || len(rec.ActorIDs) == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotThankable, rec.Kind)
	}

	applied, err = c.timeline.MarkThankYou(ctx, key, text)
	if err != nil {
		return false, fmt.Errorf("notify: mark thank you: %w", err)
	}
	if applied {
		cache.Invalidate(ctx, c.inv, c.logger, cache.NotificationsKey(key.UserID))
	} else {
		if rec, err = c.timeline.Get(ctx, key); err != nil {
			return false, err
		}
		text = rec.ThankYouText
	}

	ev := fanout.ThankYouEvent{
		SenderID: key.UserID,
		TipperID: rec.ActorIDs[0],
		VideoID:  toUint64(rec.Payload["video_id"]),
		TipUUID:  key.UUID,
		Text:     text,
	}
	if _, err := c.publisher.Publish(ctx, ev); err != nil {
		return applied, fmt.Errorf("notify: publish thank you: %w", err)
	}
	return applied, nil
}

// ResetUnread clears the unread badge. Clients that cannot count badges
// themselves call it when the notification center is acknowledged.
func (c *Center) ResetUnread(ctx context.Context, userID uint64) error {
	if err := c.timeline.ResetUnread(ctx, userID); err != nil {
		return fmt.Errorf("notify: reset unread: %w", err)
	}
	cache.Invalidate(ctx, c.inv, c.logger, cache.VisitKey(userID))
	return nil
}

// MarkVisited records a notification center visit.
func (c *Center) MarkVisited(ctx context.Context, userID uint64) error {
	if err := c.timeline.MarkVisited(ctx, userID, c.now()); err != nil {
		return fmt.Errorf("notify: mark visited: %w", err)
	}
	cache.Invalidate(ctx, c.inv, c.logger, cache.VisitKey(userID))
	return nil
}

// Unread returns the user's visit detail with the unread counter.
func (c *Center) Unread(ctx context.Context, userID uint64) (*core.VisitDetail, error) {
	return c.timeline.GetVisit(ctx, userID)
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int:
		if n > 0 {
			return uint64(n)
		}
	case float64:
		if n > 0 {
			return uint64(n)
		}
	case json.Number:
		u, _ := strconv.ParseUint(n.String(), 10, 64)
		return u
	}
	return 0
}
