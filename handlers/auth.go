package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clicast/services"
)

// AuthHandler exposes the token bootstrap endpoints. None of them are
// token-gated except Clear: possession of the current token is the
// proof for verify and rotate, and status/init must work before any
// token exists.
type AuthHandler struct {
	tokens *services.TokenStore
}

func NewAuthHandler(tokens *services.TokenStore) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type rotateRequest struct {
	CurrentToken string `json:"currentToken" binding:"required"`
	NewToken     string `json:"newToken" binding:"required"`
}

// Status reports whether a token has been configured.
func (h *AuthHandler) Status(c *gin.Context) {
	respondOK(c, gin.H{"hasToken": h.tokens.HasToken()})
}

// Init performs first-time token creation.
func (h *AuthHandler) Init(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Token required")
		return
	}

	switch err := h.tokens.Init(req.Token); err {
	case nil:
		respondCreated(c, gin.H{"hasToken": true})
	case services.ErrWeakToken:
		respondError(c, http.StatusBadRequest, err.Error())
	case services.ErrAlreadyExists:
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "Failed to save token")
	}
}

// Verify checks a submitted token.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Token required")
		return
	}
	if !h.tokens.Verify(req.Token) {
		respondError(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	respondOK(c, gin.H{"valid": true})
}

// Rotate replaces the token after proving possession of the current one.
func (h *AuthHandler) Rotate(c *gin.Context) {
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "currentToken and newToken required")
		return
	}

	switch err := h.tokens.Rotate(req.CurrentToken, req.NewToken); err {
	case nil:
		respondOK(c, gin.H{"rotated": true})
	case services.ErrUnauthorized, services.ErrNoToken:
		respondError(c, http.StatusUnauthorized, "Invalid token")
	case services.ErrWeakToken:
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "Failed to rotate token")
	}
}

// Clear removes the credential. Token-gated at the route level.
func (h *AuthHandler) Clear(c *gin.Context) {
	if err := h.tokens.Clear(); err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to clear token")
		return
	}
	respondOK(c, gin.H{"hasToken": false})
}
