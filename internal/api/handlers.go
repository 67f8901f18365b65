package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
)

// Handler contains HTTP handlers for the session inspection API
type Handler struct {
	manager *session.Manager
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(manager *session.Manager, log *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  log,
	}
}

// CreateSessionRequest is the body for POST /api/v1/sessions
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// CreateSession starts a new relay session
// POST /api/v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			appErr := errors.BadRequest(err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}

	info, err := h.manager.StartSession(c.Request.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

// ListSessions returns all known sessions
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.manager.ListSessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GetSession retrieves a session by ID
// GET /api/v1/sessions/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	info, err := h.manager.GetSession(sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// StopSession terminates a running session
// DELETE /api/v1/sessions/:sessionId
func (h *Handler) StopSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if err := h.manager.StopSession(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetResults returns the validated result items of a completed session
// GET /api/v1/sessions/:sessionId/results
func (h *Handler) GetResults(c *gin.Context) {
	sessionID := c.Param("sessionId")

	items, err := h.manager.Results(sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"results":    items,
		"total":      len(items),
	})
}

// GetTranscript returns the ordered event history of a session
// GET /api/v1/sessions/:sessionId/transcript
func (h *Handler) GetTranscript(c *gin.Context) {
	sessionID := c.Param("sessionId")

	entries, err := h.manager.Transcript(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"entries":    entries,
		"total":      len(entries),
	})
}

// Health reports service liveness
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "relay-server",
	})
}

// respondError writes an application error as a JSON response with the
// matching HTTP status.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	appErr = errors.InternalError("request failed", err)
	c.JSON(appErr.HTTPStatus, appErr)
}
