package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// MemoryHookStore is a process-local core.HookStore. Every claim runs under
// one mutex, so the lock_id compare-and-set is atomic just as the
// conditional UPDATE is in SQL.
type MemoryHookStore struct {
	mu     sync.Mutex
	table  string
	nextID uint64
	rows   map[uint64]*core.Hook
}

// NewMemoryHookStore creates an empty in-memory store.
func NewMemoryHookStore(table string) *MemoryHookStore {
	return &MemoryHookStore{table: table, rows: make(map[uint64]*core.Hook)}
}

// Migrate is a no-op; the store has no schema.
func (s *MemoryHookStore) Migrate(context.Context) error { return nil }

// Table returns the table name the store stands in for.
func (s *MemoryHookStore) Table() string { return s.table }

func cloneHook(h *core.Hook) *core.Hook {
	c := *h
	if h.LockID != nil {
		v := *h.LockID
		c.LockID = &v
	}
	if h.LockedAt != nil {
		v := *h.LockedAt
		c.LockedAt = &v
	}
	if h.UniqueKey != nil {
		v := *h.UniqueKey
		c.UniqueKey = &v
	}
	return &c
}

func (s *MemoryHookStore) insertLocked(h *core.Hook) {
	s.nextID++
	h.ID = s.nextID
	now := time.Now()
	h.CreatedAt = now
	h.UpdatedAt = now
	s.rows[h.ID] = cloneHook(h)
}

// Enqueue assigns an id and stores a copy of h.
func (s *MemoryHookStore) Enqueue(_ context.Context, h *core.Hook) error {
	if err := prepareHook(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(h)
	return nil
}

// EnqueueUnique stores h unless a hook with key exists that is not ignored.
func (s *MemoryHookStore) EnqueueUnique(_ context.Context, h *core.Hook, key string) error {
	if err := security.ValidateUniqueKey(key); err != nil {
		return err
	}
	if err := prepareHook(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UniqueKey != nil && *row.UniqueKey == key && row.Status != core.StatusIgnored {
			return core.ErrDuplicateHook
		}
	}
	h.UniqueKey = &key
	s.insertLocked(h)
	return nil
}

// EnqueueBatch stores hooks in order. Keyed hooks whose key is taken, or
// repeated within the batch, are skipped and keep a zero ID.
func (s *MemoryHookStore) EnqueueBatch(_ context.Context, hooks []*core.Hook) error {
	for _, h := range hooks {
		if err := prepareHook(h); err != nil {
			return err
		}
		if h.UniqueKey != nil {
			if err := security.ValidateUniqueKey(*h.UniqueKey); err != nil {
				return err
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken []string
	for _, row := range s.rows {
		if row.UniqueKey != nil && row.Status != core.StatusIgnored {
			taken = append(taken, *row.UniqueKey)
		}
	}
	for _, h := range dropTakenKeys(hooks, taken) {
		s.insertLocked(h)
	}
	return nil
}

// ClaimBatch locks up to req.Limit due pending hooks under req.Token.
func (s *MemoryHookStore) ClaimBatch(_ context.Context, req core.ClaimRequest) (int64, error) {
	return s.claim(req, func(h *core.Hook) bool {
		return h.Status == core.StatusPending
	})
}

// ClaimRetryable locks failed hooks below req.RetryLimit that are due again.
func (s *MemoryHookStore) ClaimRetryable(_ context.Context, req core.ClaimRequest) (int64, error) {
	return s.claim(req, func(h *core.Hook) bool {
		return h.Status == core.StatusFailed && h.FailedCount <= req.RetryLimitFor(h.Kind)
	})
}

func (s *MemoryHookStore) claim(req core.ClaimRequest, eligible func(*core.Hook) bool) (int64, error) {
	if req.Token == "" {
		return 0, errors.New("hookpipe: empty lock token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.rows))
	for id, h := range s.rows {
		if h.LockID == nil && h.ExecutionTimestamp.Before(req.Now) && eligible(h) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit := security.ClampBatchSize(req.Limit); len(ids) > limit {
		ids = ids[:limit]
	}

	now := req.Now
	for _, id := range ids {
		token := req.Token
		h := s.rows[id]
		h.LockID = &token
		h.LockedAt = &now
		h.UpdatedAt = now
	}
	return int64(len(ids)), nil
}

// FetchClaimed returns copies of the hooks locked under token, oldest first.
func (s *MemoryHookStore) FetchClaimed(_ context.Context, token string) ([]*core.Hook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Hook
	for _, h := range s.rows {
		if h.LockID != nil && *h.LockID == token {
			out = append(out, cloneHook(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryHookStore) release(id uint64, token string, apply func(*core.Hook)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[id]
	if !ok || h.LockID == nil || *h.LockID != token {
		return core.ErrLockLost
	}
	apply(h)
	h.LockID = nil
	h.LockedAt = nil
	h.UpdatedAt = time.Now()
	return nil
}

// MarkProcessed records a successful delivery and clears the lock.
func (s *MemoryHookStore) MarkProcessed(_ context.Context, id uint64, token string, response json.RawMessage) error {
	return s.release(id, token, func(h *core.Hook) {
		h.Status = core.StatusProcessed
		h.SuccessResponse = datatypes.JSON(response)
	})
}

// MarkFailed records a failed attempt; the hook stays claimable for retry.
func (s *MemoryHookStore) MarkFailed(_ context.Context, id uint64, token string, failedCount int, response json.RawMessage) error {
	return s.release(id, token, func(h *core.Hook) {
		h.Status = core.StatusFailed
		h.FailedCount = failedCount
		h.FailedResponse = datatypes.JSON(response)
	})
}

// MarkIgnored terminates the hook.
func (s *MemoryHookStore) MarkIgnored(_ context.Context, id uint64, token string, failedCount int, response json.RawMessage) error {
	return s.release(id, token, func(h *core.Hook) {
		h.Status = core.StatusIgnored
		h.FailedCount = failedCount
		h.FailedResponse = datatypes.JSON(response)
	})
}

// Reschedule returns the hook to pending at runAt.
func (s *MemoryHookStore) Reschedule(_ context.Context, id uint64, token string, failedCount int, runAt time.Time, response json.RawMessage) error {
	return s.release(id, token, func(h *core.Hook) {
		h.Status = core.StatusPending
		h.FailedCount = failedCount
		h.ExecutionTimestamp = runAt.UTC()
		h.FailedResponse = datatypes.JSON(response)
	})
}

// FetchStale returns hooks locked longer than maxHold, oldest lock first.
func (s *MemoryHookStore) FetchStale(_ context.Context, maxHold time.Duration, limit int) ([]*core.Hook, error) {
	cutoff := time.Now().Add(-maxHold)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Hook
	for _, h := range s.rows {
		if h.LockID != nil && h.LockedAt != nil && h.LockedAt.Before(cutoff) {
			out = append(out, cloneHook(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LockedAt.Equal(*out[j].LockedAt) {
			return out[i].LockedAt.Before(*out[j].LockedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit = security.ClampBatchSize(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetHook returns a copy of the hook with id.
func (s *MemoryHookStore) GetHook(_ context.Context, id uint64) (*core.Hook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return cloneHook(h), nil
}

// CountByStatus returns the number of hooks per status.
func (s *MemoryHookStore) CountByStatus(context.Context) (map[core.HookStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.HookStatus]int64)
	for _, h := range s.rows {
		out[h.Status]++
	}
	return out, nil
}

var _ core.HookStore = (*MemoryHookStore)(nil)
