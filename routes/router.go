package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"circle-planning-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP server for graceful shutdown.
type Server struct {
	*http.Server
}

// SetupRouter configures the Gin engine with the planning API.
func SetupRouter(handler *handlers.PlanningHandler, manager *handlers.PlanningManager, hub *handlers.Hub, status *handlers.StatusHandler) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	go startDeadlineSweeper(manager)

	api := router.Group("/api")
	{
		api.Use(handlers.RateLimitMiddleware())

		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", status.SystemStatus)

		circles := api.Group("/circles/:id")
		{
			circles.GET("/planning", handler.GetPlanning)
			circles.POST("/planning/vote", handler.CastVote)
			circles.POST("/planning/options", handler.AddOption)
			circles.GET("/planning/ws", hub.ServeWS)
			circles.GET("/messages", handler.GetMessages)
			circles.POST("/events/:eventID/rsvp", handler.CastRSVP)

			admin := circles.Group("", handlers.AdminOnly())
			{
				admin.POST("/planning/activity-poll", handler.StartActivityPoll)
				admin.POST("/planning/place-poll", handler.StartPlacePoll)
				admin.POST("/planning/finish", handler.FinishVoting)
				admin.POST("/planning/advance", handler.Advance)
				admin.POST("/planning/reset", handler.Reset)
				admin.POST("/events/:eventID/confirm", handler.ConfirmEvent)
			}
		}

		adminAPI := api.Group("/admin", handlers.AdminOnly())
		{
			adminAPI.POST("/replies/retry-dead-letters", status.RetryDeadLetters)
		}
	}

	return router
}

// StartServer starts the HTTP server on SERVER_PORT (default 8090).
func StartServer(router *gin.Engine) *Server {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	return srv
}

// startDeadlineSweeper periodically re-broadcasts circles whose open poll
// has passed its deadline.
func startDeadlineSweeper(manager *handlers.PlanningManager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		manager.RebroadcastExpired()
	}
}
