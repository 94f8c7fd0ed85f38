package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sidescreen/internal/core/domain"
	"sidescreen/pkg/errors"
	"sidescreen/pkg/validation"
)

type SourceRegistry interface {
	Register(desc domain.FrameSourceDescriptor) error
	Remove(id domain.SourceID) bool
	List() []domain.FrameSourceDescriptor
}

type SourceHandler struct {
	sources SourceRegistry
}

func NewSourceHandler(sources SourceRegistry) *SourceHandler {
	return &SourceHandler{sources: sources}
}

func (h *SourceHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/sources", h.ListSources)
	api.POST("/sources", h.RegisterSource)
	api.DELETE("/sources/:id", h.RemoveSource)
}

type RegisterSourceRequest struct {
	ID          string `json:"id" binding:"required"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Width       int    `json:"width" binding:"required"`
	Height      int    `json:"height" binding:"required"`
	RefreshHint int    `json:"refresh_hint"`
}

func (h *SourceHandler) ListSources(c *gin.Context) {
	descs := h.sources.List()
	views := make([]sourceView, 0, len(descs))
	for _, d := range descs {
		views = append(views, newSourceView(d))
	}
	c.JSON(http.StatusOK, gin.H{"sources": views})
}

func (h *SourceHandler) RegisterSource(c *gin.Context) {
	var req RegisterSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateSourceID(req.ID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	desc := domain.FrameSourceDescriptor{
		ID:          domain.SourceID(req.ID),
		Bounds:      domain.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height},
		RefreshHint: req.RefreshHint,
	}
	if err := h.sources.Register(desc); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"source": newSourceView(desc)})
}

// RemoveSource withdraws a surface. Sessions reading it fault on the next
// capture with source_unavailable.
func (h *SourceHandler) RemoveSource(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSourceID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if !h.sources.Remove(domain.SourceID(id)) {
		c.Error(errors.NewNotFoundError("source"))
		return
	}
	c.Status(http.StatusNoContent)
}
