package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/codegen"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	service *orchestration.Service
	logger  zerolog.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(service *orchestration.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With().Str("component", "gateway_handler").Logger(),
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": h.service.ActiveSessions()})
}

// Ready handles GET /ready
func (h *Handler) Ready(c *gin.Context) {
	if err := h.service.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetSession godoc
// @Summary Get a generation run
// @Description Live runs are served from the session registry, older ones from the run history
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} orchestration.RunSummary
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/sessions/{id} [get]
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")

	summary, err := h.service.GetRun(sessionID)
	if err == nil {
		c.JSON(http.StatusOK, summary)
		return
	}

	run, err := h.service.History(c.Request.Context(), sessionID)
	if err != nil {
		h.respondLookupError(c, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetSessionTree godoc
// @Summary Get the generated project's file tree
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.FileTreeNode
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/sessions/{id}/tree [get]
func (h *Handler) GetSessionTree(c *gin.Context) {
	sessionID := c.Param("id")

	summary, err := h.service.GetRun(sessionID)
	if err != nil {
		h.respondLookupError(c, sessionID, err)
		return
	}

	tree, err := codegen.BuildFileTree(summary.RepoPath)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to build file tree")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to read generated project", Code: models.ErrCodeInternalError})
		return
	}
	c.JSON(http.StatusOK, tree)
}

// StopPreview godoc
// @Summary Stop a run's preview dev server
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/sessions/{id}/stop [post]
func (h *Handler) StopPreview(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.service.StopPreview(sessionID); err != nil {
		h.respondLookupError(c, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "sessionId": sessionID})
}

// ListRuns godoc
// @Summary List recorded generation runs
// @Tags runs
// @Produce json
// @Param limit query int false "Maximum number of runs"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a positive integer", Code: models.ErrCodeInvalidRequest})
			return
		}
		limit = n
	}

	runs, err := h.service.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list runs", Code: models.ErrCodeInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) respondLookupError(c *gin.Context, sessionID string, err error) {
	if errors.Is(err, orchestration.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Session not found", Code: models.ErrCodeNotFound})
		return
	}
	h.logger.Error().Err(err).Str("session_id", sessionID).Msg("session lookup failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Session lookup failed", Code: models.ErrCodeInternalError})
}
