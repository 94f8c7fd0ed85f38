package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/pkg/errors"
	"sidescreen/pkg/validation"
)

// DeviceDirectory resolves devices the host has seen.
type DeviceDirectory interface {
	Known(id domain.DeviceID) (domain.Device, bool)
}

type SessionHandler struct {
	sessions ports.SessionService
	devices  DeviceDirectory
	sources  ports.SourceLookup
	defaults domain.SessionConfig
}

func NewSessionHandler(
	sessions ports.SessionService,
	devices DeviceDirectory,
	sources ports.SourceLookup,
	defaults domain.SessionConfig,
) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		devices:  devices,
		sources:  sources,
		defaults: defaults,
	}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.StartSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.StopSession)
	api.PATCH("/sessions/:id/quality", h.UpdateQuality)
}

type StartSessionRequest struct {
	DeviceID    string `json:"device_id" binding:"required"`
	SourceID    string `json:"source_id" binding:"required"`
	FPS         int    `json:"fps"`
	Quality     int    `json:"quality"`
	Codec       string `json:"codec"`
	MaxSessions int    `json:"max_sessions"`
}

type UpdateQualityRequest struct {
	Quality int `json:"quality" binding:"required"`
	FPS     int `json:"fps" binding:"required"`
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	snapshots := h.sessions.ListActiveSessions()
	views := make([]sessionView, 0, len(snapshots))
	for _, s := range snapshots {
		views = append(views, newSessionView(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	snapshot, found := h.sessions.GetSession(id)
	if !found {
		c.Error(errors.NewNotFoundError("session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionView(snapshot)})
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateSourceID(req.SourceID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	device, ok := h.devices.Known(domain.DeviceID(req.DeviceID))
	if !ok {
		c.Error(errors.NewNotFoundError("device"))
		return
	}
	source, ok := h.sources.Get(domain.SourceID(req.SourceID))
	if !ok {
		c.Error(errors.NewNotFoundError("source"))
		return
	}

	cfg := h.defaults
	if req.FPS != 0 {
		cfg.TargetFPS = req.FPS
	}
	if req.Quality != 0 {
		cfg.Quality = req.Quality
	}
	if req.Codec != "" {
		cfg.Codec = req.Codec
	}
	cfg.MaxSessions = req.MaxSessions

	id, err := h.sessions.StartSession(c.Request.Context(), device, source, cfg)
	if err != nil {
		c.Error(err)
		return
	}

	snapshot, _ := h.sessions.GetSession(id)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"session":    newSessionView(snapshot),
	})
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	stopped, err := h.sessions.StopSession(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if !stopped {
		c.Error(errors.NewNotFoundError("session"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "stopped"})
}

func (h *SessionHandler) UpdateQuality(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req UpdateQualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("quality and fps are required"))
		return
	}

	applied, err := h.sessions.UpdateQuality(id, req.Quality, req.FPS)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"quality":    applied.Quality,
		"fps":        applied.FPS,
	})
}

func sessionParam(c *gin.Context) (domain.SessionID, bool) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.SessionID(id), true
}
