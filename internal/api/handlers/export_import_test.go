package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpbox/control-plane/internal/api/handlers"
	"github.com/mcpbox/control-plane/internal/approval"
	"github.com/mcpbox/control-plane/internal/audit"
	"github.com/mcpbox/control-plane/internal/config"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e"

// fakeRegistrar satisfies approval.RegistrationTrigger without needing a
// real mcpgw.Gateway, mirroring the double used in internal/approval's
// own tests.
type fakeRegistrar struct{ calls []string }

func (f *fakeRegistrar) ReregisterServer(_ context.Context, serverID string) error {
	f.calls = append(f.calls, serverID)
	return nil
}

func newTestHandlers(t *testing.T) (*handlers.Handlers, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{ServiceName: "mcpbox-test", HMACKeyHex: testHMACKey}
	appr := approval.NewService(s, &fakeRegistrar{})
	h := handlers.New(s, cfg, nil, nil, appr, nil, nil, nil, nil)
	h.Audit = audit.NewLogger(s)
	return h, s
}

func seedServer(t *testing.T, s store.Store) *models.Server {
	t.Helper()
	srv := &models.Server{
		ID:          "srv-export-1",
		Name:        "weather",
		Status:      models.ServerStatusActive,
		NetworkMode: models.NetworkModeIsolated,
	}
	require.NoError(t, s.CreateServer(context.Background(), srv))

	tool := &models.Tool{
		ID:             "tool-export-1",
		ServerID:       srv.ID,
		Name:           "lookup",
		Transport:      models.TransportSandbox,
		Enabled:        true,
		ApprovalStatus: models.ToolApprovalApproved,
		CurrentVer:     1,
	}
	require.NoError(t, s.CreateTool(context.Background(), tool))
	require.NoError(t, s.CreateToolVersion(context.Background(), &models.ToolVersion{
		ID:      "toolver-export-1",
		ToolID:  tool.ID,
		Version: 1,
		Source:  "def run(input):\n    return {}\n",
	}))
	return srv
}

func TestExportImportRoundTrip(t *testing.T) {
	h, s := newTestHandlers(t)
	seedServer(t, s)

	exportReq := httptest.NewRequest(http.MethodGet, "/admin/servers/export", nil)
	exportRec := httptest.NewRecorder()
	h.ExportServers(exportRec, exportReq)
	require.Equal(t, http.StatusOK, exportRec.Code)

	// Import into a second, empty store: the exported server's name is
	// already taken in the first one, and server names are unique.
	h2, s2 := newTestHandlers(t)
	importReq := httptest.NewRequest(http.MethodPost, "/admin/servers/import", bytes.NewReader(exportRec.Body.Bytes()))
	importRec := httptest.NewRecorder()
	h2.ImportServers(importRec, importReq)
	require.Equal(t, http.StatusOK, importRec.Code)

	var result map[string]int
	require.NoError(t, json.Unmarshal(importRec.Body.Bytes(), &result))
	require.Equal(t, 1, result["imported"])

	servers, err := s2.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1) // only the freshly imported copy

	var imported *models.Server
	for i := range servers {
		if servers[i].ID != "srv-export-1" {
			imported = &servers[i]
		}
	}
	require.NotNil(t, imported)

	tools, err := s2.ListTools(context.Background(), imported.ID)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, models.ToolApprovalPendingReview, tools[0].ApprovalStatus, "imported tools must re-enter review regardless of their exported status")
}

func TestImportRejectsTamperedBundle(t *testing.T) {
	h, s := newTestHandlers(t)
	seedServer(t, s)

	exportReq := httptest.NewRequest(http.MethodGet, "/admin/servers/export", nil)
	exportRec := httptest.NewRecorder()
	h.ExportServers(exportRec, exportReq)
	require.Equal(t, http.StatusOK, exportRec.Code)

	var bundle map[string]interface{}
	require.NoError(t, json.Unmarshal(exportRec.Body.Bytes(), &bundle))
	bundleServers := bundle["servers"].([]interface{})
	first := bundleServers[0].(map[string]interface{})
	server := first["server"].(map[string]interface{})
	server["name"] = "tampered"
	tampered, err := json.Marshal(bundle)
	require.NoError(t, err)

	importReq := httptest.NewRequest(http.MethodPost, "/admin/servers/import", bytes.NewReader(tampered))
	importRec := httptest.NewRecorder()
	h.ImportServers(importRec, importReq)
	require.Equal(t, http.StatusUnprocessableEntity, importRec.Code)

	servers, err := s.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1, "a tampered bundle must not create any servers")
}
