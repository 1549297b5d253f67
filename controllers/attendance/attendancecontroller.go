package attendance

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"PRESENCE/geofence"
	"PRESENCE/logger"
	"PRESENCE/middleware"
	"PRESENCE/presence"

	"github.com/gin-gonic/gin"
)

const (
	defaultSummaryDays = 7
	maxSummaryDays     = 90
	// Past days looked at when predicting today's end time.
	predictionWindowDays = 30
	minPredictionSamples = 3
)

type Handler struct {
	confirmer *geofence.Confirmer
	lifecycle *presence.Lifecycle
	maxFixAge time.Duration
	now       func() time.Time
}

func NewHandler(confirmer *geofence.Confirmer, lifecycle *presence.Lifecycle, maxFixAge time.Duration) *Handler {
	return &Handler{confirmer: confirmer, lifecycle: lifecycle, maxFixAge: maxFixAge, now: time.Now}
}

// Transition reported by the device, with the freshest fix it had.
type GeofenceEventPayload struct {
	Transition string   `json:"transition" binding:"required"`
	GeofenceID string   `json:"geofenceId"`
	Latitude   *float64 `json:"latitude" binding:"omitempty,latitude"`
	Longitude  *float64 `json:"longitude" binding:"omitempty,longitude"`
	// Epoch milliseconds when the fix was taken.
	FixTime *int64 `json:"fixTime"`
}

func (h *Handler) GeofenceEventHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}

	var payload GeofenceEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}
	transition, err := geofence.ParseTransition(payload.Transition)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loc := geofence.ReportedFix{MaxAge: h.maxFixAge, Now: h.now}
	if payload.Latitude != nil && payload.Longitude != nil {
		loc.Fix = &geofence.Fix{Latitude: *payload.Latitude, Longitude: *payload.Longitude}
	}
	if payload.FixTime != nil {
		loc.CapturedAt = time.UnixMilli(*payload.FixTime)
	}

	outcome, err := h.confirmer.Handle(c.Request.Context(), geofence.Event{
		UserID:     userID,
		GeofenceID: payload.GeofenceID,
		Transition: transition,
	}, loc)
	if err != nil {
		if errors.Is(err, geofence.ErrUnknownTransition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error("geofence event failed", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "user",
			Data: userID,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record presence"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// OpenSessionHandler returns the open session and, with enough completed
// sessions in the last month, a predicted end time.
func (h *Handler) OpenSessionHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	ctx := c.Request.Context()

	ptr, open, err := h.lifecycle.OpenSession(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session"})
		return
	}
	if !open {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open session"})
		return
	}

	resp := gin.H{"session": ptr, "prediction_available": false}
	sum, err := h.lifecycle.Summary(ctx, userID, predictionWindowDays)
	if err != nil {
		logger.Warning("could not summarize history for prediction", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
	} else if sum.Completed >= minPredictionSamples {
		resp["prediction_available"] = true
		resp["predicted_end"] = ptr.Start.Add(time.Duration(sum.MeanDurationMs) * time.Millisecond)
	}
	resp["historical_data_count"] = sum.Completed
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HistoryHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	date := c.DefaultQuery("date", h.lifecycle.Today())

	history, err := h.lifecycle.History(c.Request.Context(), userID, date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to load history: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "history": history})
}

func (h *Handler) SummaryHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user session"})
		return
	}
	days := defaultSummaryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSummaryDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 90"})
			return
		}
		days = n
	}

	sum, err := h.lifecycle.Summary(c.Request.Context(), userID, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}
