package handlers_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func requestWithURLParams(method, target string, body []byte, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateToolRaisesModuleAndNetworkRequestsUnderStrictProfile(t *testing.T) {
	h, s := newTestHandlers(t)

	srv := &models.Server{
		ID:          "srv-strict-1",
		Name:        "allowlisted",
		Status:      models.ServerStatusActive,
		NetworkMode: models.NetworkModeAllowlist,
	}
	require.NoError(t, s.CreateServer(context.Background(), srv))

	body := []byte(`{
		"name": "fetch_weather",
		"transport": "sandbox",
		"source": "time.now()\nfetch('https://api.weather.example/forecast')\n"
	}`)
	req := requestWithURLParams(http.MethodPost, "/admin/servers/srv-strict-1/tools", body, map[string]string{"serverID": srv.ID})
	rec := httptest.NewRecorder()
	h.CreateTool(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	moduleReqs, err := s.ListModuleRequests(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, moduleReqs, 1)
	require.Equal(t, "time", moduleReqs[0].Module)
	require.Equal(t, models.ModuleRequestPending, moduleReqs[0].Status)

	netReqs, err := s.ListNetworkAccessRequests(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, netReqs, 1)
	require.Equal(t, "api.weather.example", netReqs[0].Hostname)
	require.Equal(t, models.NetworkAccessPending, netReqs[0].Status)

	tools, err := s.ListTools(context.Background(), srv.ID)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, models.ToolApprovalPendingReview, tools[0].ApprovalStatus)
}

func TestCreateToolIsolatedServerSkipsNetworkRequest(t *testing.T) {
	h, s := newTestHandlers(t)

	srv := &models.Server{
		ID:          "srv-isolated-1",
		Name:        "isolated",
		Status:      models.ServerStatusActive,
		NetworkMode: models.NetworkModeIsolated,
	}
	require.NoError(t, s.CreateServer(context.Background(), srv))

	body := []byte(`{
		"name": "fetch_weather",
		"transport": "sandbox",
		"source": "fetch('https://api.weather.example/forecast')\n"
	}`)
	req := requestWithURLParams(http.MethodPost, "/admin/servers/srv-isolated-1/tools", body, map[string]string{"serverID": srv.ID})
	rec := httptest.NewRecorder()
	h.CreateTool(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	netReqs, err := s.ListNetworkAccessRequests(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, netReqs, "isolated servers never get outbound network approval requests")
}

func TestDeleteServerToleratesNilSandboxClient(t *testing.T) {
	h, s := newTestHandlers(t)

	srv := &models.Server{ID: "srv-del-1", Name: "scratch", Status: models.ServerStatusActive, NetworkMode: models.NetworkModeIsolated}
	require.NoError(t, s.CreateServer(context.Background(), srv))

	req := requestWithURLParams(http.MethodDelete, "/admin/servers/srv-del-1", nil, map[string]string{"serverID": srv.ID})
	rec := httptest.NewRecorder()
	h.DeleteServer(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := s.GetServer(context.Background(), srv.ID)
	require.Error(t, err)
}
