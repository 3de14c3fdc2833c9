// Package app wires configuration into the stores, queues and deliverers
// shared by the hookpipe binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/pepolabs/hookpipe/pkg/config"
	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/delivery"
	"github.com/pepolabs/hookpipe/pkg/queue"
	"github.com/pepolabs/hookpipe/pkg/storage"
)

// OpenDB opens the configured database. PostgreSQL gets the high
// concurrency pool.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	var opts []storage.PoolOption
	if cfg.DBDriver == "postgres" {
		opts = append(opts, storage.WithPoolConfig(storage.HighConcurrencyPoolConfig()))
	}
	return storage.Open(cfg.DBDriver, cfg.DBDSN, opts...)
}

// Deliverers are the outbound transports, one per hook table.
type Deliverers struct {
	Push    delivery.Deliverer
	Email   delivery.Deliverer
	Webhook delivery.Deliverer
}

// NewDeliverers builds the configured transports. Unconfigured transports
// log the payload and succeed.
func NewDeliverers(ctx context.Context, cfg config.Config, tokens delivery.TokenStore, logger *slog.Logger) (*Deliverers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := delivery.Log{Logger: logger}
	d := &Deliverers{Push: fallback, Email: fallback, Webhook: fallback}

	if cfg.FirebaseCredentialsFile != "" {
		client, err := delivery.NewFirebaseMessaging(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, err
		}
		d.Push = delivery.NewPush(client, tokens,
			delivery.WithRateLimit(float64(cfg.PushRateLimit), cfg.PushRateLimit),
			delivery.WithPushLogger(logger))
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_FILE not set, push hooks are logged only")
	}

	if cfg.EmailAPIBaseURL != "" {
		headers := map[string]string{}
		if cfg.EmailAPIKey != "" {
			headers["Authorization"] = "Bearer " + cfg.EmailAPIKey
		}
		d.Email = delivery.NewHTTP(cfg.EmailAPIBaseURL, cfg.DeliveryTimeout, headers)
	}
	if cfg.WebhookURL != "" {
		d.Webhook = delivery.NewHTTP(cfg.WebhookURL, cfg.DeliveryTimeout, nil)
	}
	return d, nil
}

// Hooks holds one queue per hook table.
type Hooks struct {
	Notifications *queue.Queue
	Email         *queue.Queue
	Webhooks      *queue.Queue
}

// Queues returns every queue.
func (h *Hooks) Queues() []*queue.Queue {
	return []*queue.Queue{h.Notifications, h.Email, h.Webhooks}
}

// Stores returns the store behind every queue, for depth gauges and admin reads.
func (h *Hooks) Stores() []core.HookStore {
	qs := h.Queues()
	stores := make([]core.HookStore, len(qs))
	for i, q := range qs {
		stores[i] = q.Store()
	}
	return stores
}

// NewHooks migrates the hook tables and registers every hook kind. When
// responses is set, push outcomes are copied onto their timeline records.
func NewHooks(ctx context.Context, db *gorm.DB, d *Deliverers, responses delivery.ResponseStore, logger *slog.Logger) (*Hooks, error) {
	open := func(table string) (*queue.Queue, error) {
		s, err := storage.NewGormHookStore(db, table)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", table, err)
		}
		return queue.New(s), nil
	}

	var h Hooks
	var err error
	if h.Notifications, err = open(core.TableNotificationHooks); err != nil {
		return nil, err
	}
	if h.Email, err = open(core.TableEmailServiceAPICallHooks); err != nil {
		return nil, err
	}
	if h.Webhooks, err = open(core.TableWebhookEventHooks); err != nil {
		return nil, err
	}

	h.Notifications.Register(core.KindPushNotification, delivery.Handler(d.Push, core.KindPushNotification))
	for _, kind := range []core.HookKind{core.KindSendTransactionalMail, core.KindAddContact, core.KindUpdateContact} {
		h.Email.Register(kind, delivery.Handler(d.Email, kind))
	}
	h.Webhooks.Register(core.KindEventWebhook, delivery.Handler(d.Webhook, core.KindEventWebhook),
		queue.WithPolicy(core.DelayedRetryPolicy()))

	if responses != nil {
		out := delivery.PushOutcomes{Store: responses, Logger: logger}
		h.Notifications.OnHookProcessed(out.Processed)
		h.Notifications.OnHookTerminal(out.Terminal)
	}
	return &h, nil
}
