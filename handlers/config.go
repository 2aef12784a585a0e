package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clicast/config"
)

// ConfigHandler exposes the JSON config file over HTTP. The auth block
// is never returned and never writable from here; the token endpoints
// own it.
type ConfigHandler struct {
	store *config.Store
}

func NewConfigHandler(store *config.Store) *ConfigHandler {
	return &ConfigHandler{store: store}
}

type configView struct {
	Version     string             `json:"version"`
	Port        int                `json:"port"`
	AllowedDirs []string           `json:"allowedDirs"`
	AICommands  []config.AICommand `json:"aiCommands"`
	HasToken    bool               `json:"hasToken"`
}

type updateConfigRequest struct {
	Port        *int                `json:"port"`
	AllowedDirs *[]string           `json:"allowedDirs"`
	AICommands  *[]config.AICommand `json:"aiCommands"`
}

func (h *ConfigHandler) Get(c *gin.Context) {
	cfg := h.store.Get()
	respondOK(c, configView{
		Version:     cfg.Version,
		Port:        cfg.Port,
		AllowedDirs: cfg.AllowedDirs,
		AICommands:  cfg.AICommands,
		HasToken:    cfg.Auth != nil && cfg.Auth.TokenHash != "",
	})
}

// Update applies partial changes; omitted fields keep their values.
func (h *ConfigHandler) Update(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Port != nil && (*req.Port < 1 || *req.Port > 65535) {
		respondError(c, http.StatusBadRequest, "port out of range")
		return
	}
	if req.AllowedDirs != nil {
		for _, dir := range *req.AllowedDirs {
			if !filepath.IsAbs(dir) {
				respondError(c, http.StatusBadRequest, "allowedDirs entries must be absolute")
				return
			}
		}
	}

	err := h.store.Update(func(cfg *config.FileConfig) error {
		if req.Port != nil {
			cfg.Port = *req.Port
		}
		if req.AllowedDirs != nil {
			cfg.AllowedDirs = *req.AllowedDirs
		}
		if req.AICommands != nil {
			cmds := *req.AICommands
			for i := range cmds {
				if cmds[i].ID == "" {
					cmds[i].ID = uuid.NewString()
				}
			}
			cfg.AICommands = cmds
		}
		return nil
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to save config")
		return
	}

	h.Get(c)
}
