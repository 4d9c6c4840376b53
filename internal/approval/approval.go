// Package approval implements C10: the approval engine that treats every
// outbound network host, every sandbox runtime module, and every tool
// body change as an artefact requiring review before it takes effect.
package approval

import (
	"context"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
)

// RegistrationTrigger re-registers a server against the sandbox process
// (recomputed tool list, secrets, allowed modules, allowed hosts) after an
// approval decision changes what that server's tools may do. Declared
// locally, mirroring internal/auth's BlacklistChecker pattern, so this
// package does not need to import internal/mcpgw.
type RegistrationTrigger interface {
	ReregisterServer(ctx context.Context, serverID string) error
}

// noopTrigger is used when a Service is built without a registrar, e.g. in
// tests that only exercise the state machine.
type noopTrigger struct{}

func (noopTrigger) ReregisterServer(context.Context, string) error { return nil }

// Service owns the pending/approved/rejected state machines for network
// access requests, module requests, and tool approval, plus the
// auto-approve policy that the strict/balanced/permissive security
// profiles configure.
type Service struct {
	store    store.Store
	registry RegistrationTrigger
}

func NewService(s store.Store, registry RegistrationTrigger) *Service {
	if registry == nil {
		registry = noopTrigger{}
	}
	return &Service{store: s, registry: registry}
}

func (s *Service) audit(ctx context.Context, actorID, action, entity, entityID string, detail map[string]interface{}) {
	_ = s.store.CreateActivityLog(ctx, &models.ActivityLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Detail:   detail,
	})
}
