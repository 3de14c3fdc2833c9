package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance pinned to one connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := Open("postgres", dsn, MaxOpenConns(4), MaxIdleConns(2))
		require.NoError(t, err, "open postgres test db")
		db.Logger = logger.Default.LogMode(logger.Silent)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}

	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err, "open in-memory sqlite")
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests share one database.
func cleanupPostgresDB(db *gorm.DB) {
	tables := []string{
		core.TableNotificationHooks,
		core.TableEmailServiceAPICallHooks,
		core.TableWebhookEventHooks,
		"user_notifications",
		"user_notification_visit_details",
		"channel_members",
		"reply_followers",
		"error_logs",
		"device_tokens",
	}
	for _, tbl := range tables {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestHookStore creates a migrated hook store on notification_hooks.
func newTestHookStore(t *testing.T) *GormHookStore {
	t.Helper()
	s, err := NewGormHookStore(openTestDB(t), core.TableNotificationHooks)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestHook builds a hook due one hour ago.
func newTestHook(kind core.HookKind) *core.Hook {
	return &core.Hook{
		Kind:               kind,
		Payload:            []byte(`{"user_id":9}`),
		ExecutionTimestamp: time.Now().Add(-time.Hour),
	}
}

func claimReq(token string, limit int) core.ClaimRequest {
	return core.ClaimRequest{
		Token:             token,
		Limit:             limit,
		Now:               time.Now(),
		DefaultRetryLimit: 3,
	}
}
