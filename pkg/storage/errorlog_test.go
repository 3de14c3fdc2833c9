package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepolabs/hookpipe/pkg/alert"
)

func TestErrorLogStore_PersistsAlerts(t *testing.T) {
	ctx := context.Background()
	s := NewErrorLogStore(openTestDB(t))
	require.NoError(t, s.Migrate(ctx))

	require.NoError(t, s.Alert(ctx, alert.Alert{
		Kind:       "hook_ignored",
		Severity:   alert.SeverityHigh,
		Identifier: "notification_hooks:1",
		Data:       map[string]any{"failed_count": 4},
	}))
	require.NoError(t, s.Alert(ctx, alert.Alert{Kind: "hook_failed", Severity: alert.SeverityMedium}))

	logs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "hook_failed", logs[0].Kind)
	assert.Equal(t, "high", logs[1].Severity)
	assert.JSONEq(t, `{"failed_count":4}`, string(logs[1].Data))
}
