package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"clicast/config"
	"clicast/models"
	"clicast/services"
)

// SessionsHandler owns the REST surface for session CRUD. Validation
// happens here; everything else is delegated to the registry.
type SessionsHandler struct {
	store    *config.Store
	registry *services.Registry
}

func NewSessionsHandler(store *config.Store, registry *services.Registry) *SessionsHandler {
	return &SessionsHandler{store: store, registry: registry}
}

type createSessionRequest struct {
	Path        string `json:"path" binding:"required"`
	AICommandID string `json:"aiCommandId"`
}

// Create registers a new session for an admissible working directory and
// returns the WebSocket URL the browser should open.
func (h *SessionsHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "path required")
		return
	}

	st, err := os.Stat(req.Path)
	if err != nil || !st.IsDir() {
		respondError(c, http.StatusBadRequest, "path does not exist")
		return
	}

	cfg := h.store.Get()
	if !services.PathAllowed(cfg.AllowedDirs, req.Path) {
		respondError(c, http.StatusForbidden, "path not allowed")
		return
	}

	session := h.registry.Create(req.Path, cfg.CommandByID(req.AICommandID))
	respondCreated(c, gin.H{
		"session": session,
		"wsUrl":   wsURL(c, session.ID),
	})
}

// List returns a snapshot of all sessions.
func (h *SessionsHandler) List(c *gin.Context) {
	respondOK(c, h.registry.List())
}

// Get returns one session projection.
func (h *SessionsHandler) Get(c *gin.Context) {
	session, ok := h.registry.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "Session not found")
		return
	}
	respondOK(c, session)
}

// Stop terminates the session's PTY but keeps the record.
func (h *SessionsHandler) Stop(c *gin.Context) {
	id := c.Param("id")
	if !h.registry.Terminate(id, models.StatusTerminated) {
		respondError(c, http.StatusNotFound, "Session not found")
		return
	}
	session, _ := h.registry.Get(id)
	respondOK(c, session)
}

// Delete terminates the session and removes its record.
func (h *SessionsHandler) Delete(c *gin.Context) {
	if !h.registry.Delete(c.Param("id")) {
		respondError(c, http.StatusNotFound, "Session not found")
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

// wsURL derives the terminal WebSocket URL from the incoming request so
// it survives reverse proxies and TLS terminators.
func wsURL(c *gin.Context, sessionID string) string {
	scheme := "ws"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return scheme + "://" + c.Request.Host + "/ws?sessionId=" + sessionID
}
