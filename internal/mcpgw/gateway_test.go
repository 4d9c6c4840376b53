package mcpgw_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/circuitbreaker"
	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/mcpgw"
	"github.com/mcpbox/control-plane/internal/mcpsession"
	"github.com/mcpbox/control-plane/internal/ratelimit"
	"github.com/mcpbox/control-plane/internal/sandboxclient"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, s store.Store, sandbox *sandboxclient.Client, pool *mcpsession.Pool) *mcpgw.Gateway {
	t.Helper()
	box, err := cryptoutil.NewBox("0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.NoError(t, err)
	creds := credential.NewService(s, box)
	return mcpgw.NewGateway(s, sandbox, pool, circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()), ratelimit.NewLimiter(nil), creds)
}

func seedServer(t *testing.T, s store.Store, name string) models.Server {
	t.Helper()
	server := models.Server{ID: name + "-id", Name: name, Status: models.ServerStatusActive}
	require.NoError(t, s.CreateServer(context.Background(), &server))
	return server
}

func TestHandleToolsListMergesApprovedEnabledToolsOnly(t *testing.T) {
	s := store.NewMemoryStore()
	server := seedServer(t, s, "billing")

	approved := models.Tool{ID: "t1", ServerID: server.ID, Name: "charge", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalApproved}
	pending := models.Tool{ID: "t2", ServerID: server.ID, Name: "refund", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalPendingReview}
	disabled := models.Tool{ID: "t3", ServerID: server.ID, Name: "void", Transport: models.TransportSandbox, Enabled: false, ApprovalStatus: models.ToolApprovalApproved}
	require.NoError(t, s.CreateTool(context.Background(), &approved))
	require.NoError(t, s.CreateTool(context.Background(), &pending))
	require.NoError(t, s.CreateTool(context.Background(), &disabled))

	gw := newGateway(t, s, nil, nil)
	resp := gw.HandleJSONRPC(context.Background(), &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/list", ID: 1})
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	tools := result["tools"].([]models.MCPToolInfo)
	require.Len(t, tools, 1)
	require.Equal(t, "billing__charge", tools[0].Name)
}

func TestHandleToolsCallRoutesSandboxToolThroughSandboxClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		require.Equal(t, "test-key-that-is-at-least-32-chars-long", r.Header.Get("X-API-Key"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "billing__charge", body["tool_name"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sandboxclient.ExecuteResult{Success: true, Value: "charged"})
	}))
	defer srv.Close()

	sandbox, err := sandboxclient.New(srv.URL, "test-key-that-is-at-least-32-chars-long", nil)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	server := seedServer(t, s, "billing")
	tool := models.Tool{ID: "t1", ServerID: server.ID, Name: "charge", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalApproved}
	require.NoError(t, s.CreateTool(context.Background(), &tool))

	gw := newGateway(t, s, sandbox, nil)
	params, _ := json.Marshal(models.MCPToolCallParams{Name: "billing__charge", Arguments: map[string]interface{}{"amount": 5}})
	resp := gw.HandleJSONRPC(context.Background(), &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/call", Params: params, ID: 2})

	require.Nil(t, resp.Error)
	result := resp.Result.(models.MCPToolResult)
	require.False(t, result.IsError)
	require.Equal(t, "charged", result.Content[0].Text)

	logs, err := s.ListToolExecutionLogs(context.Background(), server.ID, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
}

func TestHandleToolsCallRejectsUnapprovedTool(t *testing.T) {
	s := store.NewMemoryStore()
	server := seedServer(t, s, "billing")
	tool := models.Tool{ID: "t1", ServerID: server.ID, Name: "charge", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), &tool))

	gw := newGateway(t, s, nil, nil)
	params, _ := json.Marshal(models.MCPToolCallParams{Name: "billing__charge"})
	resp := gw.HandleJSONRPC(context.Background(), &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/call", Params: params, ID: 3})

	require.NotNil(t, resp.Error)
	require.Equal(t, -32001, resp.Error.Code)
}

type fakeExternalClient struct{ calls int }

func (f *fakeExternalClient) Open(context.Context) error      { return nil }
func (f *fakeExternalClient) Initialize(context.Context) error { return nil }
func (f *fakeExternalClient) Close() error                    { return nil }
func (f *fakeExternalClient) CallTool(_ context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	f.calls++
	return map[string]interface{}{"content": []map[string]string{{"type": "text", "text": "ok:" + name}}}, nil
}
func (f *fakeExternalClient) ListTools(context.Context) ([]map[string]interface{}, error) {
	return nil, nil
}

func TestHandleToolsCallRoutesExternalToolThroughPool(t *testing.T) {
	fake := &fakeExternalClient{}
	pool := mcpsession.NewPool(func(url string, headers map[string]string) mcpsession.Client { return fake }, 10, time.Minute)

	s := store.NewMemoryStore()
	server := seedServer(t, s, "weather")
	tool := models.Tool{
		ID: "t1", ServerID: server.ID, Name: "forecast", Transport: models.TransportHTTP,
		Endpoint: "https://weather.example.com/mcp", Enabled: true, ApprovalStatus: models.ToolApprovalApproved,
	}
	require.NoError(t, s.CreateTool(context.Background(), &tool))

	gw := newGateway(t, s, nil, pool)
	params, _ := json.Marshal(models.MCPToolCallParams{Name: "weather__forecast"})
	resp := gw.HandleJSONRPC(context.Background(), &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/call", Params: params, ID: 4})

	require.Nil(t, resp.Error)
	result := resp.Result.(models.MCPToolResult)
	require.Equal(t, 1, fake.calls)
	require.True(t, strings.Contains(result.Content[0].Text, "ok:forecast"))
}

func TestHandleJSONRPCUnknownMethodReturnsMethodNotFound(t *testing.T) {
	gw := newGateway(t, store.NewMemoryStore(), nil, nil)
	resp := gw.HandleJSONRPC(context.Background(), &models.MCPRequest{Jsonrpc: "2.0", Method: "bogus", ID: 5})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	gw := newGateway(t, store.NewMemoryStore(), nil, nil)
	ch := gw.Subscribe()
	gw.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open)
}

func TestReregisterServerPushesOnlyApprovedSandboxTools(t *testing.T) {
	var registered map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register_server", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tool_count": 1})
	}))
	defer srv.Close()

	sandbox, err := sandboxclient.New(srv.URL, "test-key-that-is-at-least-32-chars-long", nil)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	server := seedServer(t, s, "billing")
	server.AllowedModules = []string{"json"}
	require.NoError(t, s.UpdateServer(context.Background(), &server))

	approved := models.Tool{ID: "t1", ServerID: server.ID, Name: "charge", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalApproved, CurrentVer: 1}
	require.NoError(t, s.CreateTool(context.Background(), &approved))
	require.NoError(t, s.CreateToolVersion(context.Background(), &models.ToolVersion{ID: "v1", ToolID: "t1", Version: 1, Source: "def main():\n    return 1\n"}))

	pending := models.Tool{ID: "t2", ServerID: server.ID, Name: "refund", Transport: models.TransportSandbox, Enabled: true, ApprovalStatus: models.ToolApprovalPendingReview}
	require.NoError(t, s.CreateTool(context.Background(), &pending))

	gw := newGateway(t, s, sandbox, nil)
	require.NoError(t, gw.ReregisterServer(context.Background(), server.ID))

	tools := registered["tools"].([]interface{})
	require.Len(t, tools, 1)
	require.Equal(t, "charge", tools[0].(map[string]interface{})["name"])
}
