// Package api exposes the session orchestrator over HTTP.
package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/errors"
	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/session"
	"github.com/donna-assistant/donna/internal/session/record"
)

// Handler contains HTTP handlers for the session API.
type Handler struct {
	service *session.Service
	store   record.Store
	logger  *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *session.Service, store record.Store, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		store:   store,
		logger:  log,
	}
}

// StartSession starts a new coding session
// POST /api/v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Start(c.Request.Context(), req.SessionID, req.Task, req.BranchName); err != nil {
		h.respondError(c, "failed to start session", req.SessionID, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "confirmed"})
}

// GetSession returns the lifecycle record of a session
// GET /api/v1/sessions/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	rec, err := h.store.Get(c.Request.Context(), sessionID)
	if err != nil {
		appErr := errors.NotFound("session", sessionID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, recordToResponse(rec))
}

// ListActiveSessions returns all records in an active state
// GET /api/v1/sessions
func (h *Handler) ListActiveSessions(c *gin.Context) {
	records, err := h.store.ListByStates(c.Request.Context(),
		record.StateRunning, record.StateWaiting, record.StateCompleted)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		appErr := errors.InternalError("failed to list sessions", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := SessionsListResponse{
		Sessions: make([]*SessionResponse, len(records)),
		Total:    len(records),
	}
	for i, rec := range records {
		resp.Sessions[i] = recordToResponse(rec)
	}

	c.JSON(http.StatusOK, resp)
}

// Respond delivers a user message to a waiting session
// POST /api/v1/sessions/:sessionId/respond
func (h *Handler) Respond(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Respond(c.Request.Context(), sessionID, req.Message); err != nil {
		h.respondError(c, "failed to respond to session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Finish closes the session's input so the agent wraps up
// POST /api/v1/sessions/:sessionId/finish
func (h *Handler) Finish(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if err := h.service.Finish(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, "failed to finish session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Approve merges the session branch into the base branch
// POST /api/v1/sessions/:sessionId/approve
func (h *Handler) Approve(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req WorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Approve(c.Request.Context(), sessionID, req.WorkspacePath, req.BranchName); err != nil {
		h.respondError(c, "failed to approve session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Reject discards the session's work
// POST /api/v1/sessions/:sessionId/reject
func (h *Handler) Reject(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req WorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Reject(c.Request.Context(), sessionID, req.WorkspacePath, req.BranchName); err != nil {
		h.respondError(c, "failed to reject session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Stop kills a live session
// POST /api/v1/sessions/:sessionId/stop
func (h *Handler) Stop(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req WorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Stop(c.Request.Context(), sessionID, req.WorkspacePath, req.BranchName); err != nil {
		h.respondError(c, "failed to stop session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Resume restarts a session in its existing workspace
// POST /api/v1/sessions/:sessionId/resume
func (h *Handler) Resume(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.Resume(c.Request.Context(), sessionID, req.Task, req.WorkspacePath, req.BranchName); err != nil {
		h.respondError(c, "failed to resume session", sessionID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// DispatchAction routes a named action from the chat/tool layer
// POST /api/v1/actions
func (h *Handler) DispatchAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result := h.service.Dispatch(c.Request.Context(), req.Action, session.ActionPayload{
		SessionID:     req.SessionID,
		Task:          req.Task,
		Message:       req.Message,
		BranchName:    req.BranchName,
		WorkspacePath: req.WorkspacePath,
	})

	// The dispatch envelope always reports through the result body; the HTTP
	// layer only distinguishes success from failure.
	status := http.StatusOK
	if result.Status != "confirmed" {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

// respondError maps a service error onto the HTTP response.
func (h *Handler) respondError(c *gin.Context, msg, sessionID string, err error) {
	h.logger.Error(msg, zap.String("session_id", sessionID), zap.Error(err))

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	appErr = errors.InternalError(msg, err)
	c.JSON(appErr.HTTPStatus, appErr)
}

func recordToResponse(rec *record.Record) *SessionResponse {
	resp := &SessionResponse{
		ID:            rec.ID,
		Status:        string(rec.Status),
		State:         string(rec.Payload.State),
		Task:          rec.Payload.Task,
		WorkspacePath: rec.Payload.WorkspacePath,
		Branch:        rec.Payload.Branch,
		TotalTurns:    rec.Payload.TotalTurns,
		TotalCostUSD:  rec.Payload.TotalCostUSD,
		LastMessage:   rec.Payload.LastMessage,
		Error:         rec.Payload.Error,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if res := rec.Payload.Result; res != nil {
		view := &ResultView{
			Turns:        res.Turns,
			CostUSD:      res.CostUSD,
			ChangedFiles: res.ChangedFiles,
			Log:          res.Log,
		}
		if res.Stats != nil {
			view.FilesChanged = res.Stats.FilesChanged
			view.Additions = res.Stats.Additions
			view.Deletions = res.Stats.Deletions
		}
		resp.Result = view
	}
	return resp
}
