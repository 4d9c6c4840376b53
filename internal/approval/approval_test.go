package approval_test

import (
	"context"
	"testing"

	"github.com/mcpbox/control-plane/internal/approval"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct{ calls []string }

func (f *fakeRegistrar) ReregisterServer(_ context.Context, serverID string) error {
	f.calls = append(f.calls, serverID)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRequestNetworkAccessStaysPendingUnderStrictProfile(t *testing.T) {
	s := newTestStore(t)
	reg := &fakeRegistrar{}
	svc := approval.NewService(s, reg)

	req, err := svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.NoError(t, err)
	require.Equal(t, models.NetworkAccessPending, req.Status)
	require.Empty(t, reg.calls)
}

func TestRequestNetworkAccessRejectsDuplicatePending(t *testing.T) {
	s := newTestStore(t)
	svc := approval.NewService(s, nil)

	_, err := svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.NoError(t, err)

	_, err = svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.ErrorIs(t, err, approval.ErrAlreadyPending)
}

func TestDecideNetworkAccessApprovedTriggersReregistration(t *testing.T) {
	s := newTestStore(t)
	reg := &fakeRegistrar{}
	svc := approval.NewService(s, reg)

	req, err := svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.DecideNetworkAccess(context.Background(), req.ID, true, "admin@example.com"))
	require.Equal(t, []string{"srv-1"}, reg.calls)

	stored, err := s.GetNetworkAccessRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, models.NetworkAccessApproved, stored.Status)
	require.NotNil(t, stored.DecidedAt)
}

func TestDecideNetworkAccessRejectsAlreadyDecided(t *testing.T) {
	s := newTestStore(t)
	svc := approval.NewService(s, nil)

	req, err := svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.DecideNetworkAccess(context.Background(), req.ID, true, "admin"))

	err = svc.DecideNetworkAccess(context.Background(), req.ID, true, "admin")
	require.ErrorIs(t, err, approval.ErrAlreadyDecided)
}

func TestNetworkAccessAutoApprovedUnderPermissiveProfile(t *testing.T) {
	s := newTestStore(t)
	reg := &fakeRegistrar{}
	svc := approval.NewService(s, reg)
	require.NoError(t, svc.SetSecurityProfile(context.Background(), approval.ProfilePermissive, "admin"))

	req, err := svc.RequestNetworkAccess(context.Background(), "srv-1", "tool-1", "api.example.com", "user@example.com")
	require.NoError(t, err)
	require.Equal(t, models.NetworkAccessApproved, req.Status)
	require.Equal(t, []string{"srv-1"}, reg.calls)
}

func TestApproveToolRequiresPendingReview(t *testing.T) {
	s := newTestStore(t)
	svc := approval.NewService(s, nil)

	tool := &models.Tool{ServerID: "srv-1", Name: "double", ApprovalStatus: models.ToolApprovalApproved}
	err := svc.ApproveTool(context.Background(), tool, "admin")
	require.ErrorIs(t, err, approval.ErrNotPendingReview)
}

func TestApproveToolTriggersReregistration(t *testing.T) {
	s := newTestStore(t)
	reg := &fakeRegistrar{}
	svc := approval.NewService(s, reg)

	tool := &models.Tool{ServerID: "srv-1", Name: "double", ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), tool))

	require.NoError(t, svc.ApproveTool(context.Background(), tool, "admin"))
	require.Equal(t, models.ToolApprovalApproved, tool.ApprovalStatus)
	require.Equal(t, "admin", tool.ApprovedBy)
	require.NotNil(t, tool.ApprovedAt)
	require.Equal(t, []string{"srv-1"}, reg.calls)
}

func TestPublishToolVersionResetsApprovalToPendingReview(t *testing.T) {
	s := newTestStore(t)
	reg := &fakeRegistrar{}
	svc := approval.NewService(s, reg)

	tool := &models.Tool{ServerID: "srv-1", Name: "double", ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), tool))
	require.NoError(t, svc.ApproveTool(context.Background(), tool, "admin"))
	require.Equal(t, models.ToolApprovalApproved, tool.ApprovalStatus)

	version := &models.ToolVersion{Source: "def main(): pass"}
	require.NoError(t, svc.PublishToolVersion(context.Background(), tool, version, models.ToolChangeEdit, "editor@example.com"))

	require.Equal(t, models.ToolApprovalPendingReview, tool.ApprovalStatus, "editing an approved tool must close the TOCTOU gap")
	require.Empty(t, tool.ApprovedBy)
	require.Nil(t, tool.ApprovedAt)
	require.Equal(t, 1, tool.CurrentVer)
}

func TestPublishToolVersionUnderAutoApproveStaysApproved(t *testing.T) {
	s := newTestStore(t)
	svc := approval.NewService(s, nil)
	require.NoError(t, svc.SetSecurityProfile(context.Background(), approval.ProfileBalanced, "admin"))

	tool := &models.Tool{ServerID: "srv-1", Name: "double", ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), tool))
	require.NoError(t, svc.ApproveTool(context.Background(), tool, "admin"))

	version := &models.ToolVersion{Source: "def main(): pass"}
	require.NoError(t, svc.PublishToolVersion(context.Background(), tool, version, models.ToolChangeEdit, "editor@example.com"))

	require.Equal(t, models.ToolApprovalApproved, tool.ApprovalStatus)
}

func TestRollbackGoesThroughSameApprovalGate(t *testing.T) {
	s := newTestStore(t)
	svc := approval.NewService(s, nil)

	tool := &models.Tool{ServerID: "srv-1", Name: "double", ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), tool))
	require.NoError(t, svc.ApproveTool(context.Background(), tool, "admin"))

	version := &models.ToolVersion{Source: "def main(): return 1"}
	require.NoError(t, svc.PublishToolVersion(context.Background(), tool, version, models.ToolChangeRollback, "admin"))

	require.Equal(t, models.ToolApprovalPendingReview, tool.ApprovalStatus)
}
