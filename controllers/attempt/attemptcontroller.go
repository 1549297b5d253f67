package attempt

import (
	"errors"
	"net/http"

	"PRESENCE/gallery"
	"PRESENCE/logger"
	"PRESENCE/middleware"
	"PRESENCE/verification"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	registry *verification.Registry
	deps     verification.Deps
}

func NewHandler(registry *verification.Registry, deps verification.Deps) *Handler {
	return &Handler{registry: registry, deps: deps}
}

func (h *Handler) StartAttemptHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}

	orch, err := verification.NewOrchestrator(c.Request.Context(), userID, h.deps)
	if err != nil {
		if errors.Is(err, gallery.ErrNotEnrolled) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no enrolled face for your account, register one first"})
			return
		}
		logger.Error("failed to start verification", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load face data"})
		return
	}

	id := h.registry.Start(orch)
	c.JSON(http.StatusCreated, gin.H{"attemptId": id, "progress": orch.Progress()})
}

// FrameHandler hands one analyzed frame to the attempt's worker and answers
// with the progress as of the last processed frame. A frame that is still
// waiting when the next one arrives is replaced by it.
func (h *Handler) FrameHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	id := c.Param("id")
	orch, ok := h.registry.Get(id, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification attempt not found"})
		return
	}

	var frame verification.Frame
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame: " + err.Error()})
		return
	}

	if progress := orch.Progress(); progress.Decision != verification.Pending {
		h.settle(c, id, progress)
		return
	}
	replaced, ok := h.registry.Submit(id, userID, frame)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification attempt not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"progress": orch.Progress(), "replaced": replaced})
}

// StatusHandler reports the attempt's progress. A decided attempt is reported
// once and then dropped.
func (h *Handler) StatusHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	id := c.Param("id")
	orch, ok := h.registry.Get(id, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification attempt not found"})
		return
	}

	progress := orch.Progress()
	if progress.Decision != verification.Pending {
		h.settle(c, id, progress)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

func (h *Handler) settle(c *gin.Context, id string, progress verification.Progress) {
	h.registry.Finish(id)
	switch progress.Failure {
	case verification.FailureModel:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face model unavailable", "progress": progress})
	case verification.FailureMark:
		logger.Error("verified, but session upgrade failed", logger.LoggerOptions{
			Key:  "attempt",
			Data: id,
		})
		c.JSON(http.StatusBadGateway, gin.H{"error": "verified, but attendance could not be updated", "progress": progress})
	default:
		c.JSON(http.StatusOK, gin.H{"progress": progress})
	}
}

// AbortAttemptHandler cancels the attempt. If a frame is being processed the
// returned progress may still be pending; that frame is discarded.
func (h *Handler) AbortAttemptHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	id := c.Param("id")
	orch, ok := h.registry.Get(id, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "verification attempt not found"})
		return
	}
	orch.Abort()
	h.registry.Finish(id)
	c.JSON(http.StatusOK, gin.H{"progress": orch.Progress()})
}
