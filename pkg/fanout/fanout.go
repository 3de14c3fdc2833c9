package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"

	"github.com/pepolabs/hookpipe/pkg/cache"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/delivery"
	"github.com/pepolabs/hookpipe/pkg/queue"
	"github.com/pepolabs/hookpipe/pkg/template"
)

// Publisher turns domain events into timeline records and push hooks.
type Publisher struct {
	timeline core.Timeline
	hooks    *queue.Queue
	engine   *template.Engine
	cfg      *config
}

// NewPublisher creates a publisher writing records to timeline and push
// hooks to hooks. hooks must have a handler for core.KindPushNotification.
func NewPublisher(timeline core.Timeline, hooks *queue.Queue, engine *template.Engine, opts ...Option) *Publisher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}
	return &Publisher{timeline: timeline, hooks: hooks, engine: engine, cfg: cfg}
}

// Publish validates src, resolves its recipients and, page by page, writes
// one record per recipient, bumps unread counters and enqueues one push
// hook per recipient. No recipients is a successful no-op. A recipient
// resolution failure aborts the publish; pages written before it stay.
//
// Record ids derive from the event and the recipient, so publishing the
// same event again writes nothing new and enqueues only missing push hooks.
func (p *Publisher) Publish(ctx context.Context, src Source) (Result, error) {
	kind := src.Kind()
	logger := p.cfg.logger.With("kind", kind)

	if err := src.Validate(); err != nil {
		p.cfg.metrics.published(kind, "invalid")
		return Result{}, err
	}

	n := src.Build()
	ts := n.Timestamp
	if ts.IsZero() {
		ts = p.cfg.now()
	}
	event := template.Event(n.ActorIDs, n.SubjectUserID, n.Payload)

	kc, ok := p.engine.Kind(kind)
	if !ok {
		p.cfg.metrics.published(kind, "invalid")
		return Result{}, fmt.Errorf("%w: %q", template.ErrUnknownKind, kind)
	}
	if err := p.engine.Validate(kind, kc.DefaultVersion, event); err != nil {
		p.cfg.metrics.published(kind, "invalid")
		return Result{}, err
	}

	rendered := make(map[int]*template.Rendered)
	render := func(userID uint64) (*template.Rendered, error) {
		v, err := p.engine.Version(kind, event, userID)
		if err != nil {
			return nil, err
		}
		if r, ok := rendered[v]; ok {
			return r, nil
		}
		r, err := p.engine.Render(kind, v, event)
		if err != nil {
			return nil, err
		}
		rendered[v] = r
		return r, nil
	}

	identity, err := eventIdentity(kind, n)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = src.Recipients(p.cfg.deps)(ctx, func(userIDs []uint64) error {
		recs := make([]*core.NotificationRecord, 0, len(userIDs))
		views := make([]*template.Rendered, 0, len(userIDs))
		for _, uid := range userIDs {
			r, err := render(uid)
			if err != nil {
				return err
			}
			recs = append(recs, &core.NotificationRecord{
				UserID:              uid,
				LastActionTimestamp: ts.UnixMilli(),
				UUID:                recordUUID(identity, uid),
				Kind:                kind,
				ActorIDs:            datatypes.JSONSlice[uint64](n.ActorIDs),
				ActorCount:          len(n.ActorIDs),
				SubjectUserID:       n.SubjectUserID,
				Payload:             datatypes.JSONMap(n.Payload),
				HeadingVersion:      r.Version,
			})
			views = append(views, r)
		}

		inserted, err := p.timeline.AppendBatch(ctx, recs)
		if err != nil {
			return fmt.Errorf("fanout: append records: %w", err)
		}

		var fresh []uint64
		var pushes []any
		var replayed []delivery.PushPayload
		for i, rec := range recs {
			r := views[i]
			push := delivery.PushPayload{
				UserID:   rec.UserID,
				Key:      rec.Key(),
				Kind:     kind,
				Heading:  r.Heading,
				Includes: r.Includes,
				Image:    r.Image,
				Goto:     r.Goto,
			}
			if inserted[i] {
				fresh = append(fresh, rec.UserID)
				pushes = append(pushes, push)
			} else {
				replayed = append(replayed, push)
			}
		}
		res.Records += len(fresh)
		res.Recipients += len(userIDs)

		if len(fresh) > 0 {
			if err := p.timeline.IncrementUnread(ctx, fresh); err != nil {
				return fmt.Errorf("fanout: increment unread: %w", err)
			}
			ids, err := p.hooks.EnqueueBatch(ctx, core.KindPushNotification, pushes)
			if err != nil {
				return fmt.Errorf("fanout: enqueue push hooks: %w", err)
			}
			res.Hooks += len(ids)
		}

		// Records written by an earlier delivery of the event only get the
		// push hook that delivery may not have reached.
		for _, push := range replayed {
			_, err := p.hooks.Enqueue(ctx, core.KindPushNotification, push, queue.Unique(push.UniqueKey()))
			if errors.Is(err, core.ErrDuplicateHook) {
				continue
			}
			if err != nil {
				return fmt.Errorf("fanout: enqueue push hook: %w", err)
			}
			res.Hooks++
		}

		if len(fresh) > 0 {
			keys := make([]string, 0, 2*len(fresh))
			for _, uid := range fresh {
				keys = append(keys, cache.UserKeys(uid)...)
			}
			cache.Invalidate(ctx, p.cfg.invalidator, logger, keys...)
		}
		p.cfg.metrics.recipients(kind, len(userIDs))

		logger.Debug("fan-out page written", "recipients", len(userIDs), "new", len(fresh))
		return nil
	})
	if err != nil {
		p.cfg.metrics.published(kind, "error")
		logger.Error("publish failed", "recipients", res.Recipients, "error", err)
		return res, err
	}

	p.cfg.metrics.published(kind, "ok")
	logger.Info("published notification",
		slog.Int("recipients", res.Recipients),
		slog.Int("hooks", res.Hooks),
	)
	return res, nil
}
