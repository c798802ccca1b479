package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/petal-labs/flowmcp/tool"
)

const serverDescription = "Model Context Protocol (MCP) server for Flow blockchain with direct RPC communication"

// messageRequest is the POST /messages body.
type messageRequest struct {
	ID         json.RawMessage `json:"id,omitempty"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type messageResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        ServerName,
		"version":     s.version,
		"description": serverDescription,
		"network":     s.network.Network.Name,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Definitions())
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.network.Info())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{ID: req.ID, Error: "Tool name is required"})
		return
	}

	started := time.Now()
	result := s.invoker.Invoke(r.Context(), tool.Request{Tool: req.Tool, Params: req.Parameters})
	logger := s.logger.With("tool", req.Tool, "duration_ms", time.Since(started).Milliseconds())

	if result.Err != nil {
		if result.Err.Code == tool.ToolErrorCodeNotFound || result.Err.Code == tool.ToolErrorCodeInvalidParameters {
			logger.Debug("tool call rejected", "code", result.Err.Code, "error", result.Err.Message)
		} else {
			logger.Error("error handling tool call", "code", result.Err.Code, "error", result.Err.Message)
		}
		// Every dispatch failure is a 500, whatever its code.
		writeJSON(w, http.StatusInternalServerError, errorBody{ID: req.ID, Error: result.Err.Message})
		return
	}

	logger.Debug("tool call completed")
	writeJSON(w, http.StatusOK, messageResponse{ID: req.ID, Result: result.Value})
}

func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
