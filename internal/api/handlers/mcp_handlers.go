package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// MCPEndpoint is the gateway's JSON-RPC 2.0 entry point: every MCP client
// (an LLM agent's tool-calling runtime) talks to MCPbox through this one
// route, regardless of whether a tool resolves to the sandbox or to a
// proxied external source.
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.MCPResponse{
			Jsonrpc: "2.0",
			Error:   &models.MCPError{Code: -32700, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	log.Info().Str("method", req.Method).Msg("MCP request received")

	resp := h.Gateway.HandleJSONRPC(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// MCPSSEEndpoint streams tool-call responses to clients that prefer
// Server-Sent Events over a plain JSON-RPC request/response.
func (h *Handlers) MCPSSEEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.Gateway.Subscribe()
	defer h.Gateway.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(msg)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", string(data))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
