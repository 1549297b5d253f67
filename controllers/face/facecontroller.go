package face

import (
	"errors"
	"net/http"

	"PRESENCE/gallery"
	"PRESENCE/helper"
	"PRESENCE/logger"
	"PRESENCE/middleware"

	"github.com/gin-gonic/gin"
)

// One enrolled sample from the device. Either form of the vector is accepted.
type RegisterFacePayload struct {
	Embedding    []float64 `json:"embedding"`
	EmbeddingB64 string    `json:"embeddingB64"`
	Name         string    `json:"name" binding:"max=128"`
}

type Handler struct {
	gallery gallery.Gallery
}

func NewHandler(g gallery.Gallery) *Handler {
	return &Handler{gallery: g}
}

// RegisterFaceHandler appends a sample; earlier angles are kept.
func (h *Handler) RegisterFaceHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}

	var payload RegisterFacePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face data: " + err.Error()})
		return
	}
	vec := payload.Embedding
	if len(vec) == 0 {
		if payload.EmbeddingB64 == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "embedding or embeddingB64 is required"})
			return
		}
		decoded, err := helper.DecodeEmbedding(payload.EmbeddingB64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		vec = decoded
	}

	if err := h.gallery.Enroll(c.Request.Context(), userID, payload.Name, vec); err != nil {
		if errors.Is(err, gallery.ErrBadDimension) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error("failed to enroll face", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save face data"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "face sample saved"})
}

func (h *Handler) CheckFaceStatusHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}

	count, err := h.gallery.Count(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read face data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_registered": count > 0,
		"face_count":    count,
	})
}
