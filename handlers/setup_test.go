package handlers

import (
	"context"
	"log"
	"testing"

	"circle-planning-backend/cache"
	"circle-planning-backend/database"
	"circle-planning-backend/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// storeReplies persists reply-channel entries straight to the store, which
// is also what main wires up when no broker is configured.
type storeReplies struct {
	store *database.Store
}

func (r storeReplies) Append(ctx context.Context, circleID, text string) error {
	_, err := r.store.AppendMessage(ctx, circleID, models.MessageTypeSystem, text)
	return err
}

// SetupTestEnvironment sets up the Gin router and in-memory SQLite database
// for testing.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *database.Store) {
	testing.Init()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	database.DB = db
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	store := database.NewStore(db, nil)

	hub := NewHub()
	go hub.Run()

	manager := NewPlanningManager(store, storeReplies{store: store}, hub, cache.NewLockService())
	handler := NewPlanningHandler(manager, store)

	t.Cleanup(func() {
		manager.Close()
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Admin-Key"}
	router.Use(cors.New(config))

	api := router.Group("/api")
	{
		api.GET("/health", HealthCheck)

		circles := api.Group("/circles/:id")
		{
			circles.GET("/planning", handler.GetPlanning)
			circles.POST("/planning/vote", handler.CastVote)
			circles.POST("/planning/options", handler.AddOption)
			circles.GET("/messages", handler.GetMessages)
			circles.POST("/events/:eventID/rsvp", handler.CastRSVP)
			circles.GET("/planning/ws", hub.ServeWS)

			admin := circles.Group("", AdminOnly())
			{
				admin.POST("/planning/activity-poll", handler.StartActivityPoll)
				admin.POST("/planning/place-poll", handler.StartPlacePoll)
				admin.POST("/planning/finish", handler.FinishVoting)
				admin.POST("/planning/advance", handler.Advance)
				admin.POST("/planning/reset", handler.Reset)
				admin.POST("/events/:eventID/confirm", handler.ConfirmEvent)
			}
		}
	}

	return router, store
}
