package routes

import (
	"net/http"
	"time"

	"PRESENCE/controllers/attempt"
	"PRESENCE/controllers/attendance"
	"PRESENCE/controllers/face"
	"PRESENCE/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Attendance *attendance.Handler
	Face       *face.Handler
	Attempt    *attempt.Handler
}

// SetupRouter builds the HTTP surface. Everything under /api requires a bearer token.
func SetupRouter(jwtKey []byte, h Handlers) *gin.Engine {
	server := gin.New()
	server.Use(gin.Recovery())
	server.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	server.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := server.Group("/api")
	api.Use(middleware.Auth(jwtKey))
	{
		api.POST("/geofence/events", h.Attendance.GeofenceEventHandler)
		api.GET("/presence/open", h.Attendance.OpenSessionHandler)
		api.GET("/presence/history", h.Attendance.HistoryHandler)
		api.GET("/presence/summary", h.Attendance.SummaryHandler)

		api.POST("/face/register", h.Face.RegisterFaceHandler)
		api.GET("/face/status", h.Face.CheckFaceStatusHandler)

		api.POST("/verification/attempts", h.Attempt.StartAttemptHandler)
		api.POST("/verification/attempts/:id/frames", h.Attempt.FrameHandler)
		api.GET("/verification/attempts/:id", h.Attempt.StatusHandler)
		api.DELETE("/verification/attempts/:id", h.Attempt.AbortAttemptHandler)
	}

	server.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": c.Request.Method + " " + c.Request.URL.Path + " does not exist"})
	})
	return server
}
