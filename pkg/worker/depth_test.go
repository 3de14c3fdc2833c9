package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/storage"
)

type brokenStore struct {
	core.HookStore
}

func (brokenStore) Table() string { return "webhook_event_hooks" }

func (brokenStore) CountByStatus(context.Context) (map[core.HookStatus]int64, error) {
	return nil, errors.New("db down")
}

func TestDepthCollector(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryHookStore(core.TableNotificationHooks)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Enqueue(ctx, &core.Hook{Kind: core.KindPushNotification}))
	}

	c := NewDepthCollector(store, brokenStore{})
	expected := `
# HELP hookpipe_hooks Hook rows by table and status.
# TYPE hookpipe_hooks gauge
hookpipe_hooks{status="failed",table="notification_hooks"} 0
hookpipe_hooks{status="ignored",table="notification_hooks"} 0
hookpipe_hooks{status="pending",table="notification_hooks"} 3
hookpipe_hooks{status="processed",table="notification_hooks"} 0
# HELP hookpipe_hook_table_up Whether the last count of the hook table succeeded.
# TYPE hookpipe_hook_table_up gauge
hookpipe_hook_table_up{table="notification_hooks"} 1
hookpipe_hook_table_up{table="webhook_event_hooks"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}
