package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/audit"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestLoggerRecordWritesActivityLog(t *testing.T) {
	s := store.NewMemoryStore()
	logger := audit.NewLogger(s)

	logger.Record(context.Background(), "admin-1", "tool.approved", "tool", "t1", map[string]interface{}{"reason": "looks fine"})

	logs, err := s.ListActivityLogs(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "tool.approved", logs[0].Action)
}

func TestJanitorRespectsConfiguredRetentionSetting(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertSetting(ctx, &models.Setting{Key: audit.SettingLogRetentionDays, Value: "1"}))
	entry := &models.ActivityLog{ID: "fresh", ActorID: "x", Action: "a", Entity: "e"}
	require.NoError(t, s.CreateActivityLog(ctx, entry))

	j := audit.NewJanitor(s, time.Hour)
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	j.Run(sweepCtx)

	logs, err := s.ListActivityLogs(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1, "a fresh entry is well within a 1-day retention window")
}

func TestJanitorDefaultsRetentionWhenSettingMissing(t *testing.T) {
	s := store.NewMemoryStore()
	entry := &models.ActivityLog{ID: "e1", ActorID: "x", Action: "a", Entity: "e"}
	require.NoError(t, s.CreateActivityLog(context.Background(), entry))

	j := audit.NewJanitor(s, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	j.Run(ctx) // sweeps once immediately, then blocks until ctx expires

	logs, err := s.ListActivityLogs(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1, "30-day default retention should not purge a fresh entry")
}
