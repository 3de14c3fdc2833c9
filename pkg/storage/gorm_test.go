package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// ──────────────────────────────────────────────────────────────────────────────
// Constructor / migration
// ──────────────────────────────────────────────────────────────────────────────

func TestNewGormHookStore_RejectsBadTable(t *testing.T) {
	_, err := NewGormHookStore(nil, "hooks; drop table users")
	assert.ErrorIs(t, err, core.ErrInvalidTableName)
}

func TestNewGormHookStore_Accessors(t *testing.T) {
	db := openTestDB(t)
	s, err := NewGormHookStore(db, core.TableEmailServiceAPICallHooks)
	require.NoError(t, err)

	assert.Same(t, db, s.DB())
	assert.Equal(t, core.TableEmailServiceAPICallHooks, s.Table())
	assert.Equal(t, db.Dialector.Name() == "sqlite", s.IsSQLite())
}

func TestMigrate_SeveralTablesShareOneDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, table := range []string{core.TableNotificationHooks, core.TableEmailServiceAPICallHooks, core.TableWebhookEventHooks} {
		s, err := NewGormHookStore(db, table)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx), table)
		// Migrate is idempotent.
		require.NoError(t, s.Migrate(ctx), table)
	}

	push, _ := NewGormHookStore(db, core.TableNotificationHooks)
	mail, _ := NewGormHookStore(db, core.TableEmailServiceAPICallHooks)
	require.NoError(t, push.Enqueue(ctx, newTestHook(core.KindPushNotification)))

	counts, err := mail.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts, "tables must not share rows")
}

// ──────────────────────────────────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────────────────────────────────

func TestEnqueue_CreatesPendingHook(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := &core.Hook{Kind: core.KindPushNotification}
	require.NoError(t, s.Enqueue(ctx, h))

	assert.NotZero(t, h.ID, "ID should be auto-generated")
	assert.Equal(t, core.StatusPending, h.Status)
	assert.False(t, h.ExecutionTimestamp.IsZero())

	got, err := s.GetHook(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.KindPushNotification, got.Kind)
	assert.JSONEq(t, `{}`, string(got.Payload))
	assert.Nil(t, got.LockID)
	assert.Equal(t, 0, got.FailedCount)
}

func TestEnqueue_RejectsInvalidKindAndLargePayload(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	assert.ErrorIs(t, s.Enqueue(ctx, &core.Hook{Kind: "bad kind"}), core.ErrInvalidHookKind)
	assert.ErrorIs(t, s.Enqueue(ctx, &core.Hook{
		Kind:    core.KindPushNotification,
		Payload: make([]byte, (1<<20)+1),
	}), core.ErrPayloadTooLarge)
}

func TestEnqueueUnique_RejectsDuplicateUntilIgnored(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	first := newTestHook(core.KindPushNotification)
	require.NoError(t, s.EnqueueUnique(ctx, first, "tip:7:9:42"))
	assert.ErrorIs(t, s.EnqueueUnique(ctx, newTestHook(core.KindPushNotification), "tip:7:9:42"), core.ErrDuplicateHook)
	second := newTestHook(core.KindPushNotification)
	require.NoError(t, s.EnqueueUnique(ctx, second, "tip:7:9:43"))

	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, first.ID, "w1:a", nil))
	require.NoError(t, s.MarkIgnored(ctx, second.ID, "w1:a", 4, nil))

	assert.ErrorIs(t, s.EnqueueUnique(ctx, newTestHook(core.KindPushNotification), "tip:7:9:42"), core.ErrDuplicateHook,
		"a delivered hook keeps its key")
	assert.NoError(t, s.EnqueueUnique(ctx, newTestHook(core.KindPushNotification), "tip:7:9:43"),
		"an ignored hook frees its key")
}

func TestEnqueueBatch_InsertsAll(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	hooks := []*core.Hook{
		newTestHook(core.KindPushNotification),
		newTestHook(core.KindPushNotification),
		newTestHook(core.KindPushNotification),
	}
	require.NoError(t, s.EnqueueBatch(ctx, hooks))
	for _, h := range hooks {
		assert.NotZero(t, h.ID)
	}
	assert.NoError(t, s.EnqueueBatch(ctx, nil), "empty batch is a no-op")

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[core.StatusPending])
}

func TestEnqueueBatch_SkipsTakenUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)
	require.NoError(t, s.EnqueueUnique(ctx, newTestHook(core.KindPushNotification), "push:9:a"))

	keyed := func(key string) *core.Hook {
		h := newTestHook(core.KindPushNotification)
		h.UniqueKey = &key
		return h
	}
	hooks := []*core.Hook{keyed("push:9:a"), keyed("push:9:b"), keyed("push:9:b"), newTestHook(core.KindPushNotification)}
	require.NoError(t, s.EnqueueBatch(ctx, hooks))
	assert.Zero(t, hooks[0].ID, "key held by a pending hook")
	assert.NotZero(t, hooks[1].ID)
	assert.Zero(t, hooks[2].ID, "repeated within the batch")
	assert.NotZero(t, hooks[3].ID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[core.StatusPending])
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimBatch_ZeroRowsIsNotAnError(t *testing.T) {
	s := newTestHookStore(t)
	n, err := s.ClaimBatch(context.Background(), claimReq("w1:a", 10))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClaimBatch_LocksDueRowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestHook(core.KindPushNotification)))
	}
	future := newTestHook(core.KindPushNotification)
	future.ExecutionTimestamp = time.Now().Add(time.Hour)
	require.NoError(t, s.Enqueue(ctx, future))

	n, err := s.ClaimBatch(ctx, claimReq("w1:a", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	claimed, err := s.FetchClaimed(ctx, "w1:a")
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for _, h := range claimed {
		require.NotNil(t, h.LockID)
		assert.Equal(t, "w1:a", *h.LockID)
		assert.NotNil(t, h.LockedAt)
	}

	n, err = s.ClaimBatch(ctx, claimReq("w2:b", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "future row must not be claimed")
}

func TestClaimBatch_SecondClaimerGetsNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestHook(core.KindPushNotification)))
	}

	n, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = s.ClaimBatch(ctx, claimReq("w2:b", 10))
	require.NoError(t, err)
	assert.Zero(t, n)

	mine, err := s.FetchClaimed(ctx, "w2:b")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestClaimBatch_EmptyTokenRejected(t *testing.T) {
	s := newTestHookStore(t)
	_, err := s.ClaimBatch(context.Background(), claimReq("", 10))
	assert.Error(t, err)
}

func TestClaimRetryable_HonoursPerKindLimits(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	push := newTestHook(core.KindPushNotification)
	hook := newTestHook(core.KindEventWebhook)
	require.NoError(t, s.EnqueueBatch(ctx, []*core.Hook{push, hook}))

	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, push.ID, "w1:a", 4, nil))
	require.NoError(t, s.MarkFailed(ctx, hook.ID, "w1:a", 4, nil))

	req := claimReq("w1:b", 10)
	req.RetryLimits = map[core.HookKind]int{core.KindEventWebhook: 5}
	n, err := s.ClaimRetryable(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := s.FetchClaimed(ctx, "w1:b")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, hook.ID, claimed[0].ID, "push is over the default limit of 3")
}

func TestClaimBatch_DoesNotPickFailedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, h.ID, "w1:a", 1, nil))

	n, err := s.ClaimBatch(ctx, claimReq("w1:b", 10))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.ClaimRetryable(ctx, claimReq("w1:c", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ──────────────────────────────────────────────────────────────────────────────
// Mark
// ──────────────────────────────────────────────────────────────────────────────

func TestMarkProcessed_IsNeverClaimedAgain(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, h.ID, "w1:a", json.RawMessage(`{"message_id":"m-1"}`)))

	got, err := s.GetHook(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessed, got.Status)
	assert.Nil(t, got.LockID)
	assert.Nil(t, got.LockedAt)
	assert.JSONEq(t, `{"message_id":"m-1"}`, string(got.SuccessResponse))

	req := claimReq("w2:b", 10)
	req.DefaultRetryLimit = 100
	n, err := s.ClaimBatch(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.ClaimRetryable(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMark_FailsWhenTokenDoesNotOwnRow(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkProcessed(ctx, h.ID, "w2:b", nil), core.ErrLockLost)
	assert.ErrorIs(t, s.MarkFailed(ctx, h.ID, "w2:b", 1, nil), core.ErrLockLost)
	assert.ErrorIs(t, s.MarkIgnored(ctx, h.ID, "w2:b", 1, nil), core.ErrLockLost)
	assert.ErrorIs(t, s.Reschedule(ctx, h.ID, "w2:b", 1, time.Now(), nil), core.ErrLockLost)

	got, err := s.GetHook(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, "w1:a", *got.LockID)
}

func TestMark_SecondMarkReportsLockLost(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, h.ID, "w1:a", nil))
	assert.True(t, errors.Is(s.MarkProcessed(ctx, h.ID, "w1:a", nil), core.ErrLockLost))
}

func TestMarkIgnored_StoresFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)

	require.NoError(t, s.MarkIgnored(ctx, h.ID, "w1:a", 4, json.RawMessage(`{"error":"gone"}`)))

	got, err := s.GetHook(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIgnored, got.Status)
	assert.Equal(t, 4, got.FailedCount)
	assert.JSONEq(t, `{"error":"gone"}`, string(got.FailedResponse))
}

func TestReschedule_DelaysNextClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	h := newTestHook(core.KindEventWebhook)
	require.NoError(t, s.Enqueue(ctx, h))
	_, err := s.ClaimBatch(ctx, claimReq("w1:a", 10))
	require.NoError(t, err)

	runAt := time.Now().Add(3 * time.Minute)
	require.NoError(t, s.Reschedule(ctx, h.ID, "w1:a", 1, runAt, nil))

	n, err := s.ClaimBatch(ctx, claimReq("w1:b", 10))
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	later := claimReq("w1:c", 10)
	later.Now = runAt.Add(time.Second)
	n, err = s.ClaimBatch(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	claimed, err := s.FetchClaimed(ctx, "w1:c")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].FailedCount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Stale locks
// ──────────────────────────────────────────────────────────────────────────────

func TestFetchStale_ReturnsOnlyAbandonedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)

	stale := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, stale))
	old := claimReq("dead:a", 10)
	old.Now = time.Now().Add(-10 * time.Minute)
	n, err := s.ClaimBatch(ctx, old)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	fresh := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, fresh))
	_, err = s.ClaimBatch(ctx, claimReq("live:b", 10))
	require.NoError(t, err)

	rows, err := s.FetchStale(ctx, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].ID)
	require.NotNil(t, rows[0].LockID)

	// Settling under the stale token frees the row and locks out the old owner.
	require.NoError(t, s.MarkFailed(ctx, stale.ID, *rows[0].LockID, 1, nil))
	assert.ErrorIs(t, s.MarkProcessed(ctx, stale.ID, "dead:a", nil), core.ErrLockLost)
	assert.NoError(t, s.MarkProcessed(ctx, fresh.ID, "live:b", nil))
}

// ──────────────────────────────────────────────────────────────────────────────
// Retry bound
// ──────────────────────────────────────────────────────────────────────────────

func TestRetryLoop_FailedCountBoundedByPolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestHookStore(t)
	policy := core.DefaultRetryPolicy()

	h := newTestHook(core.KindPushNotification)
	require.NoError(t, s.Enqueue(ctx, h))

	for cycle := 0; cycle < 10; cycle++ {
		token := "w1:" + string(rune('a'+cycle))
		req := claimReq(token, 10)
		req.DefaultRetryLimit = policy.Limit
		_, err := s.ClaimBatch(ctx, req)
		require.NoError(t, err)
		_, err = s.ClaimRetryable(ctx, req)
		require.NoError(t, err)

		claimed, err := s.FetchClaimed(ctx, token)
		require.NoError(t, err)
		for _, c := range claimed {
			tr := policy.OnFailure(c.FailedCount, time.Now(), errors.New("push rejected"))
			if tr.Terminal {
				require.NoError(t, s.MarkIgnored(ctx, c.ID, token, tr.FailedCount, nil))
			} else {
				require.NoError(t, s.MarkFailed(ctx, c.ID, token, tr.FailedCount, nil))
			}
		}
	}

	got, err := s.GetHook(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIgnored, got.Status)
	assert.Equal(t, policy.Limit+1, got.FailedCount)
}

func TestGetHook_ReturnsNilForMissing(t *testing.T) {
	s := newTestHookStore(t)
	h, err := s.GetHook(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, h)
}
