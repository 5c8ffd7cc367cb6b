// Package handlers exposes the sync engine's HTTP API.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/services"
)

// ConnectionHandler serves connection management endpoints.
type ConnectionHandler struct {
	connections services.ConnectionService
	reconciler  *services.Reconciler
	logger      *zap.Logger
}

// NewConnectionHandler creates a ConnectionHandler.
func NewConnectionHandler(connections services.ConnectionService, reconciler *services.Reconciler, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		reconciler:  reconciler,
		logger:      logger.Named("connections_handler"),
	}
}

// RegisterRoutes registers the connection routes on the given mux.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections", h.Create)
	mux.HandleFunc("GET /api/connections", h.List)
	mux.HandleFunc("GET /api/connections/{id}", h.Get)
	mux.HandleFunc("DELETE /api/connections/{id}", h.Delete)
	mux.HandleFunc("POST /api/connections/{id}/test", h.Test)
	mux.HandleFunc("GET /api/connections/{id}/tables", h.Tables)
	mux.HandleFunc("GET /api/database-types", h.Families)
}

// Create handles POST /api/connections. Credentials are accepted in the
// request body, encrypted, and never echoed back.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	conn, err := h.connections.Create(r.Context(), &req)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, conn); err != nil {
		h.logger.Error("failed to encode connection", zap.Error(err))
	}
}

// List handles GET /api/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.List(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"connections": conns}); err != nil {
		h.logger.Error("failed to encode connections", zap.Error(err))
	}
}

// Get handles GET /api/connections/{id}.
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	conn, err := h.connections.Get(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, conn); err != nil {
		h.logger.Error("failed to encode connection", zap.Error(err))
	}
}

// Delete handles DELETE /api/connections/{id}.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.connections.Delete(r.Context(), id); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/connections/{id}/test.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.connections.Test(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("failed to encode test result", zap.Error(err))
	}
}

// Tables handles GET /api/connections/{id}/tables: the synced table
// metadata recorded by the reconciler.
func (h *ConnectionHandler) Tables(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	states, err := h.reconciler.ListTables(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"tables": states}); err != nil {
		h.logger.Error("failed to encode table states", zap.Error(err))
	}
}

// Families handles GET /api/database-types: connector families compiled
// into this binary.
func (h *ConnectionHandler) Families(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{"database_types": h.connections.ListFamilies()}); err != nil {
		h.logger.Error("failed to encode database types", zap.Error(err))
	}
}
