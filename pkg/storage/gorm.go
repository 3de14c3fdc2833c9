package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/security"
)

// GormHookStore implements core.HookStore on one hook table using GORM.
type GormHookStore struct {
	db    *gorm.DB
	table string
}

// NewGormHookStore creates a store for the given hook table.
func NewGormHookStore(db *gorm.DB, table string) (*GormHookStore, error) {
	if err := security.ValidateTableName(table); err != nil {
		return nil, err
	}
	return &GormHookStore{db: db, table: table}, nil
}

// DB returns the underlying connection.
func (s *GormHookStore) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormHookStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// Table returns the hook table name.
func (s *GormHookStore) Table() string {
	return s.table
}

func (s *GormHookStore) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Migrate creates the table and its claim index.
// Index names are derived from the table since PostgreSQL index names are
// schema-global and several tables share the Hook struct.
func (s *GormHookStore) Migrate(ctx context.Context) error {
	if err := s.q(ctx).AutoMigrate(&core.Hook{}); err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_claim ON %s (status, lock_id, execution_timestamp)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_lock ON %s (lock_id)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_unique_key ON %s (unique_key)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index on %s: %w", s.table, err)
		}
	}
	return nil
}

func prepareHook(h *core.Hook) error {
	if err := security.ValidateHookKind(h.Kind); err != nil {
		return err
	}
	if err := security.ValidatePayload(h.Payload); err != nil {
		return err
	}
	if len(h.Payload) == 0 {
		h.Payload = datatypes.JSON(`{}`)
	}
	if h.Status == "" {
		h.Status = core.StatusPending
	}
	if h.ExecutionTimestamp.IsZero() {
		h.ExecutionTimestamp = time.Now()
	}
	h.ExecutionTimestamp = h.ExecutionTimestamp.UTC()
	h.LockID = nil
	h.LockedAt = nil
	return nil
}

// Enqueue inserts a pending hook.
func (s *GormHookStore) Enqueue(ctx context.Context, h *core.Hook) error {
	if err := prepareHook(h); err != nil {
		return err
	}
	return s.q(ctx).Create(h).Error
}

// EnqueueUnique inserts h only if no pending, failed or processed hook with
// the same unique key exists. An ignored hook frees its key.
func (s *GormHookStore) EnqueueUnique(ctx context.Context, h *core.Hook, key string) error {
	if err := security.ValidateUniqueKey(key); err != nil {
		return err
	}
	if err := prepareHook(h); err != nil {
		return err
	}
	h.UniqueKey = &key

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Table(s.table).
			Where("unique_key = ?", key).
			Where("status <> ?", core.StatusIgnored).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateHook
		}
		return tx.Table(s.table).Create(h).Error
	})
}

// EnqueueBatch inserts hooks in batches of up to 100 rows. Hooks carrying a
// UniqueKey are skipped, with ID left zero, when EnqueueUnique would reject
// them or an earlier hook of the batch has the same key.
func (s *GormHookStore) EnqueueBatch(ctx context.Context, hooks []*core.Hook) error {
	if len(hooks) == 0 {
		return nil
	}
	var keys []string
	for _, h := range hooks {
		if err := prepareHook(h); err != nil {
			return err
		}
		if h.UniqueKey != nil {
			if err := security.ValidateUniqueKey(*h.UniqueKey); err != nil {
				return err
			}
			keys = append(keys, *h.UniqueKey)
		}
	}
	if len(keys) == 0 {
		return s.q(ctx).CreateInBatches(hooks, 100).Error
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken []string
		err := tx.Table(s.table).
			Where("unique_key IN ?", keys).
			Where("status <> ?", core.StatusIgnored).
			Pluck("unique_key", &taken).Error
		if err != nil {
			return err
		}
		fresh := dropTakenKeys(hooks, taken)
		if len(fresh) == 0 {
			return nil
		}
		return tx.Table(s.table).CreateInBatches(fresh, 100).Error
	})
}

// dropTakenKeys filters out keyed hooks whose key is taken or repeated.
func dropTakenKeys(hooks []*core.Hook, taken []string) []*core.Hook {
	seen := make(map[string]bool, len(taken))
	for _, k := range taken {
		seen[k] = true
	}
	fresh := make([]*core.Hook, 0, len(hooks))
	for _, h := range hooks {
		if h.UniqueKey != nil {
			if seen[*h.UniqueKey] {
				continue
			}
			seen[*h.UniqueKey] = true
		}
		fresh = append(fresh, h)
	}
	return fresh
}

// ClaimBatch locks due pending rows for req.Token.
func (s *GormHookStore) ClaimBatch(ctx context.Context, req core.ClaimRequest) (int64, error) {
	now := req.Now.UTC()
	candidates := s.q(ctx).
		Select("id").
		Where("lock_id IS NULL").
		Where("status = ?", core.StatusPending).
		Where("execution_timestamp < ?", now).
		Order("id").
		Limit(security.ClampBatchSize(req.Limit))
	return s.claim(ctx, candidates, req.Token, now)
}

// ClaimRetryable locks failed rows whose failed_count is within the retry
// limit of their kind.
func (s *GormHookStore) ClaimRetryable(ctx context.Context, req core.ClaimRequest) (int64, error) {
	now := req.Now.UTC()
	candidates := s.q(ctx).
		Select("id").
		Where("lock_id IS NULL").
		Where("status = ?", core.StatusFailed).
		Where("execution_timestamp < ?", now).
		Where(s.retryLimitCondition(req)).
		Order("id").
		Limit(security.ClampBatchSize(req.Limit))
	return s.claim(ctx, candidates, req.Token, now)
}

// retryLimitCondition builds
// (kind NOT IN (...) AND failed_count <= default) OR (kind = ? AND failed_count <= ?) ...
func (s *GormHookStore) retryLimitCondition(req core.ClaimRequest) *gorm.DB {
	kinds := make([]core.HookKind, 0, len(req.RetryLimits))
	for k := range req.RetryLimits {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	if len(kinds) == 0 {
		return s.db.Where("failed_count <= ?", req.DefaultRetryLimit)
	}
	cond := s.db.Where("kind NOT IN ? AND failed_count <= ?", kinds, req.DefaultRetryLimit)
	for _, k := range kinds {
		cond = cond.Or("kind = ? AND failed_count <= ?", k, req.RetryLimits[k])
	}
	return cond
}

// claim is the single conditional write behind both claim variants. The
// outer lock_id IS NULL re-check makes concurrent claimers race on the row
// rather than on the candidate read.
func (s *GormHookStore) claim(ctx context.Context, candidates *gorm.DB, token string, now time.Time) (int64, error) {
	if token == "" {
		return 0, errors.New("hookpipe: empty lock token")
	}
	res := s.q(ctx).
		Where("id IN (?)", candidates).
		Where("lock_id IS NULL").
		Updates(map[string]any{
			"lock_id":    token,
			"locked_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// FetchClaimed returns rows currently locked by token.
func (s *GormHookStore) FetchClaimed(ctx context.Context, token string) ([]*core.Hook, error) {
	var hooks []*core.Hook
	err := s.q(ctx).
		Where("lock_id = ?", token).
		Order("id").
		Find(&hooks).Error
	return hooks, err
}

// release clears the lock and applies updates if token still owns the row.
func (s *GormHookStore) release(ctx context.Context, id uint64, token string, updates map[string]any) error {
	updates["lock_id"] = nil
	updates["locked_at"] = nil
	updates["updated_at"] = time.Now().UTC()

	res := s.q(ctx).
		Where("id = ? AND lock_id = ?", id, token).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrLockLost
	}
	return nil
}

func jsonColumn(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

// MarkProcessed records a successful delivery.
func (s *GormHookStore) MarkProcessed(ctx context.Context, id uint64, token string, response json.RawMessage) error {
	return s.release(ctx, id, token, map[string]any{
		"status":           core.StatusProcessed,
		"success_response": jsonColumn(response),
	})
}

// MarkFailed records a failure; the row stays claimable by ClaimRetryable
// while failed_count is within the kind's limit.
func (s *GormHookStore) MarkFailed(ctx context.Context, id uint64, token string, failedCount int, response json.RawMessage) error {
	return s.release(ctx, id, token, map[string]any{
		"status":          core.StatusFailed,
		"failed_count":    failedCount,
		"failed_response": jsonColumn(response),
	})
}

// MarkIgnored records a terminal failure.
func (s *GormHookStore) MarkIgnored(ctx context.Context, id uint64, token string, failedCount int, response json.RawMessage) error {
	return s.release(ctx, id, token, map[string]any{
		"status":          core.StatusIgnored,
		"failed_count":    failedCount,
		"failed_response": jsonColumn(response),
	})
}

// Reschedule puts the row back to pending, due at runAt.
func (s *GormHookStore) Reschedule(ctx context.Context, id uint64, token string, failedCount int, runAt time.Time, response json.RawMessage) error {
	return s.release(ctx, id, token, map[string]any{
		"status":              core.StatusPending,
		"failed_count":        failedCount,
		"execution_timestamp": runAt.UTC(),
		"failed_response":     jsonColumn(response),
	})
}

// FetchStale returns up to limit rows whose lock is older than maxHold,
// oldest lock first. The rows stay locked; the caller settles each one
// through the mark operations under its stale token.
func (s *GormHookStore) FetchStale(ctx context.Context, maxHold time.Duration, limit int) ([]*core.Hook, error) {
	var hooks []*core.Hook
	err := s.q(ctx).
		Where("lock_id IS NOT NULL").
		Where("locked_at < ?", time.Now().UTC().Add(-maxHold)).
		Order("locked_at, id").
		Limit(security.ClampBatchSize(limit)).
		Find(&hooks).Error
	return hooks, err
}

// GetHook retrieves a hook by id. It returns nil, nil when missing.
func (s *GormHookStore) GetHook(ctx context.Context, id uint64) (*core.Hook, error) {
	var h core.Hook
	err := s.q(ctx).Where("id = ?", id).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CountByStatus returns row counts grouped by status.
func (s *GormHookStore) CountByStatus(ctx context.Context) (map[core.HookStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.q(ctx).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[core.HookStatus]int64, len(rows))
	for _, r := range rows {
		out[core.HookStatus(r.Status)] = r.Count
	}
	return out, nil
}

var _ core.HookStore = (*GormHookStore)(nil)
