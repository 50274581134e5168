// Package http exposes the dialogue lifecycle over a JSON API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/dialogue"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/media"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// Handlers binds the dialogue controller and upload store to routes.
type Handlers struct {
	controller *dialogue.Controller
	uploads    *media.Store
	logger     *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(controller *dialogue.Controller, uploads *media.Store, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{controller: controller, uploads: uploads, logger: logger}
}

// Root reports service identity.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "vqa-dialogue",
		"version": "1.0.0",
	})
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Analyze accepts a multipart upload (field "image", which also carries
// video clips) plus "question" and optional "mode", and runs the first
// dialogue round.
func (h *Handlers) Analyze(c *gin.Context) {
	mode, err := dialogue.ParseMode(c.PostForm("mode"))
	if err != nil {
		h.fail(c, err)
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		h.fail(c, errs.New(errs.KindValidation, "image file is required"))
		return
	}

	subject, err := h.uploads.Save(fh)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.controller.Analyze(c.Request.Context(), subject, c.PostForm("question"), mode)
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.NeedsClarification() {
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"mode":       string(mode),
			"session_id": res.SessionID.String(),
			"clarification": gin.H{
				"question": res.Clarification.Question,
				"options":  res.Clarification.Options,
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"mode":   string(mode),
		"answer": res.Answer,
	})
}

type clarifyRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Selection string `json:"selection" binding:"required"`
}

// Clarify resolves a clarification selection into a focused answer.
func (h *Handlers) Clarify(c *gin.Context) {
	var req clarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindValidation, "session_id and selection are required", err))
		return
	}

	answer, err := h.controller.ResolveSelection(c.Request.Context(), id.SessionID(req.SessionID), req.Selection)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"answer":      answer,
		"focus_ready": true,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// Chat answers a follow-up question within a focused session.
func (h *Handlers) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindValidation, "session_id and text are required", err))
		return
	}

	answer, err := h.controller.Followup(c.Request.Context(), id.SessionID(req.SessionID), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "answer": answer})
}

type endSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// EndSession closes a session. Always succeeds, even for unknown ids.
func (h *Handlers) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.Wrap(errs.KindValidation, "session_id is required", err))
		return
	}

	h.controller.EndSession(id.SessionID(req.SessionID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail writes the error payload with the status its kind maps to.
func (h *Handlers) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  string(kind),
	})
}
