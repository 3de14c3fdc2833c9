package hookpipe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/pepolabs/hookpipe"
	"github.com/pepolabs/hookpipe/pkg/storage"
)

type mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func setup(t *testing.T, table string) (*hookpipe.Queue, *hookpipe.GormHookStore) {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := hookpipe.NewGormHookStore(db, table)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	return hookpipe.New(store), store
}

func TestFacade_EnqueueAndDrain(t *testing.T) {
	ctx := context.Background()
	q, store := setup(t, hookpipe.TableEmailServiceAPICallHooks)

	got := make(chan mail, 1)
	q.Register(hookpipe.KindSendTransactionalMail, func(_ context.Context, m mail) error {
		got <- m
		return nil
	})

	id, err := q.Enqueue(ctx, hookpipe.KindSendTransactionalMail, mail{To: "a@b.c", Subject: "hi"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	w := hookpipe.NewWorker(q, hookpipe.WithWorkerID("facade"), hookpipe.BatchSize(5))
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "a@b.c", (<-got).To)

	h, err := store.GetHook(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, hookpipe.StatusProcessed, h.Status)
}

func TestFacade_QueueNewWorkerUsesFactory(t *testing.T) {
	q, _ := setup(t, hookpipe.TableNotificationHooks)
	starter := q.NewWorker(hookpipe.Concurrency(2), "ignored option")

	w, ok := starter.(*hookpipe.Worker)
	require.True(t, ok)
	assert.Equal(t, 2, w.Config().Concurrency)
}

func TestFacade_FinalErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	q, store := setup(t, hookpipe.TableWebhookEventHooks)
	q.Register(hookpipe.KindEventWebhook, func(context.Context, map[string]any) error {
		return hookpipe.NoRetry(errors.New("endpoint gone"))
	}, hookpipe.WithPolicy(hookpipe.DelayedRetryPolicy()))

	id, err := q.Enqueue(ctx, hookpipe.KindEventWebhook, map[string]any{"event": "signup"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = hookpipe.NewWorker(q).RunOnce(ctx)
	require.NoError(t, err)

	h, err := store.GetHook(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, hookpipe.StatusFailed, h.Status)
	assert.Equal(t, hookpipe.DelayedRetryPolicy().Limit+1, h.FailedCount)
}

func TestFacade_InvalidTable(t *testing.T) {
	db, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = hookpipe.NewGormHookStore(db, "users; drop table")
	assert.ErrorIs(t, err, hookpipe.ErrInvalidTableName)
}
