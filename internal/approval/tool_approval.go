package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpbox/control-plane/pkg/models"
)

// ErrNotPendingReview is returned when approving/rejecting a tool that
// isn't currently awaiting review.
var ErrNotPendingReview = fmt.Errorf("approval: tool is not pending review")

// ApproveTool marks a tool approved and triggers a server re-registration
// so the sandbox picks up its (now-active) tool list, secrets, and allowed
// modules/hosts.
func (s *Service) ApproveTool(ctx context.Context, tool *models.Tool, approvedBy string) error {
	if tool.ApprovalStatus != models.ToolApprovalPendingReview {
		return ErrNotPendingReview
	}

	now := time.Now()
	tool.ApprovalStatus = models.ToolApprovalApproved
	tool.ApprovedBy = approvedBy
	tool.ApprovedAt = &now

	if err := s.store.UpdateTool(ctx, tool); err != nil {
		return err
	}
	s.audit(ctx, approvedBy, "tool.approved", "tool", tool.ID, nil)

	if err := s.registry.ReregisterServer(ctx, tool.ServerID); err != nil {
		return fmt.Errorf("reregister server after tool approval: %w", err)
	}
	return nil
}

// RejectTool marks a tool rejected. A rejected tool's ToolVersion history
// is untouched — rejecting only blocks activation, it doesn't delete work.
func (s *Service) RejectTool(ctx context.Context, tool *models.Tool, rejectedBy string) error {
	if tool.ApprovalStatus != models.ToolApprovalPendingReview {
		return ErrNotPendingReview
	}

	tool.ApprovalStatus = models.ToolApprovalRejected
	tool.ApprovedBy = rejectedBy
	tool.ApprovedAt = nil

	if err := s.store.UpdateTool(ctx, tool); err != nil {
		return err
	}
	s.audit(ctx, rejectedBy, "tool.rejected", "tool", tool.ID, nil)
	return nil
}

// PublishToolVersion records a new ToolVersion for tool and decides
// whether the change resets approval: editing the source of an
// already-approved tool transitions it back to pending_review — unless
// the auto_approve policy is active — closing the TOCTOU gap where an
// approved tool's body could be silently swapped. Rolling back to a
// prior version goes through the same gate with
// changeSource=ToolChangeRollback; it is not a backdoor around review.
func (s *Service) PublishToolVersion(ctx context.Context, tool *models.Tool, version *models.ToolVersion, changeSource models.ToolChangeSource, actor string) error {
	version.ToolID = tool.ID
	version.Version = tool.CurrentVer + 1
	version.ChangeSource = changeSource
	version.CreatedBy = actor

	if err := s.store.CreateToolVersion(ctx, version); err != nil {
		return err
	}

	tool.CurrentVer = version.Version
	tool.Schema = version.DerivedSchema

	wasApproved := tool.ApprovalStatus == models.ToolApprovalApproved
	if wasApproved && !s.CurrentPolicy(ctx).AutoApproveTools {
		tool.ApprovalStatus = models.ToolApprovalPendingReview
		tool.ApprovedBy = ""
		tool.ApprovedAt = nil
	} else if tool.ApprovalStatus == "" {
		tool.ApprovalStatus = models.ToolApprovalPendingReview
	}

	if err := s.store.UpdateTool(ctx, tool); err != nil {
		return err
	}

	s.audit(ctx, actor, "tool."+string(changeSource), "tool", tool.ID, map[string]interface{}{
		"version":          version.Version,
		"reset_to_pending": wasApproved && tool.ApprovalStatus == models.ToolApprovalPendingReview,
	})

	if tool.ApprovalStatus == models.ToolApprovalApproved {
		if err := s.registry.ReregisterServer(ctx, tool.ServerID); err != nil {
			return fmt.Errorf("reregister server after tool version publish: %w", err)
		}
	}
	return nil
}
