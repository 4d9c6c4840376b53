package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
)

// ErrAlreadyPending is returned when a request for the same (serverID or
// toolID, target) pair is already outstanding — the in-memory equivalent
// of a partial unique index on pending requests.
var ErrAlreadyPending = fmt.Errorf("approval: a request for this target is already pending")

// ErrAlreadyDecided is returned when approving/denying a request that has
// already left the pending state.
var ErrAlreadyDecided = fmt.Errorf("approval: request already decided")

// RequestNetworkAccess raises a NetworkAccessRequest for a host a sandboxed
// tool tried to reach outside its server's allowlist, unless one is
// already pending for the same (serverID, toolID, hostname).
func (s *Service) RequestNetworkAccess(ctx context.Context, serverID, toolID, hostname, requestedBy string) (*models.NetworkAccessRequest, error) {
	existing, err := s.store.ListNetworkAccessRequests(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.Status == models.NetworkAccessPending && r.ServerID == serverID && r.ToolID == toolID && r.Hostname == hostname {
			return nil, ErrAlreadyPending
		}
	}

	req := &models.NetworkAccessRequest{
		ServerID:    serverID,
		ToolID:      toolID,
		Hostname:    hostname,
		Status:      models.NetworkAccessPending,
		RequestedBy: requestedBy,
	}

	if s.CurrentPolicy(ctx).AutoApproveNetwork {
		return req, s.decideNetworkAccess(ctx, req, models.NetworkAccessApproved, requestedBy)
	}

	if err := s.store.CreateNetworkAccessRequest(ctx, req); err != nil {
		return nil, err
	}
	s.audit(ctx, requestedBy, "network_access.requested", "network_access_request", req.ID, map[string]interface{}{"hostname": hostname})
	return req, nil
}

func (s *Service) DecideNetworkAccess(ctx context.Context, requestID string, approve bool, decidedBy string) error {
	req, err := s.store.GetNetworkAccessRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.NetworkAccessPending {
		return ErrAlreadyDecided
	}
	status := models.NetworkAccessDenied
	if approve {
		status = models.NetworkAccessApproved
	}
	return s.decideNetworkAccess(ctx, req, status, decidedBy)
}

func (s *Service) decideNetworkAccess(ctx context.Context, req *models.NetworkAccessRequest, status models.NetworkAccessStatus, decidedBy string) error {
	now := time.Now()
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecidedAt = &now

	var err error
	if req.ID == "" {
		err = s.store.CreateNetworkAccessRequest(ctx, req)
	} else {
		err = s.store.UpdateNetworkAccessRequest(ctx, req)
	}
	if err != nil {
		return err
	}

	s.audit(ctx, decidedBy, "network_access."+string(status), "network_access_request", req.ID, map[string]interface{}{"hostname": req.Hostname})

	if status == models.NetworkAccessApproved {
		if err := s.registry.ReregisterServer(ctx, req.ServerID); err != nil {
			return fmt.Errorf("reregister server after network access approval: %w", err)
		}
	}
	return nil
}

// RequestModuleAccess raises a ModuleRequest for a sandbox stdlib module a
// tool's source imports but isn't yet on the server's allowlist.
func (s *Service) RequestModuleAccess(ctx context.Context, serverID, toolID, module, requestedBy string) (*models.ModuleRequest, error) {
	existing, err := s.store.ListModuleRequests(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.Status == models.ModuleRequestPending && r.ServerID == serverID && r.ToolID == toolID && r.Module == module {
			return nil, ErrAlreadyPending
		}
	}

	req := &models.ModuleRequest{
		ServerID:    serverID,
		ToolID:      toolID,
		Module:      module,
		Status:      models.ModuleRequestPending,
		RequestedBy: requestedBy,
	}

	if s.CurrentPolicy(ctx).AutoApproveModules {
		return req, s.decideModuleAccess(ctx, req, models.ModuleRequestApproved, requestedBy)
	}

	if err := s.store.CreateModuleRequest(ctx, req); err != nil {
		return nil, err
	}
	s.audit(ctx, requestedBy, "module_access.requested", "module_request", req.ID, map[string]interface{}{"module": module})
	return req, nil
}

func (s *Service) DecideModuleAccess(ctx context.Context, requestID string, approve bool, decidedBy string) error {
	req, err := s.store.GetModuleRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.ModuleRequestPending {
		return ErrAlreadyDecided
	}
	status := models.ModuleRequestDenied
	if approve {
		status = models.ModuleRequestApproved
	}
	return s.decideModuleAccess(ctx, req, status, decidedBy)
}

func (s *Service) decideModuleAccess(ctx context.Context, req *models.ModuleRequest, status models.ModuleRequestStatus, decidedBy string) error {
	now := time.Now()
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecidedAt = &now

	var err error
	if req.ID == "" {
		err = s.store.CreateModuleRequest(ctx, req)
	} else {
		err = s.store.UpdateModuleRequest(ctx, req)
	}
	if err != nil {
		return err
	}

	s.audit(ctx, decidedBy, "module_access."+string(status), "module_request", req.ID, map[string]interface{}{"module": req.Module})

	if status == models.ModuleRequestApproved {
		if err := s.registry.ReregisterServer(ctx, req.ServerID); err != nil {
			return fmt.Errorf("reregister server after module access approval: %w", err)
		}
	}
	return nil
}
