// Package audit is the append-only log pipeline: a thin writer for
// ActivityLog/ToolExecutionLog rows shared by the HTTP handlers, and a
// background retention sweep that evicts rows older than the configured
// `log_retention_days` setting.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Logger writes activity entries on behalf of any component that doesn't
// already own its own (internal/approval and internal/mcpgw log directly
// against the store: one extra interface hop buys nothing when the write
// is a single struct literal). HTTP handlers without a more specific
// service to ask use this instead of reaching into store.Store themselves.
type Logger struct {
	store store.Store
}

func NewLogger(s store.Store) *Logger {
	return &Logger{store: s}
}

// Record writes one ActivityLog row, best-effort: a failed audit write
// must never abort the action it's describing.
func (l *Logger) Record(ctx context.Context, actorID, action, entity, entityID string, detail map[string]interface{}) {
	entry := &models.ActivityLog{
		ID:       uuid.New().String(),
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Detail:   detail,
	}
	if err := l.store.CreateActivityLog(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entity).Msg("failed to write activity log")
	}
}
