package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"circle-planning-backend/cache"
	"circle-planning-backend/database"
	"circle-planning-backend/handlers"
	"circle-planning-backend/models"
	"circle-planning-backend/mq"
	"circle-planning-backend/routes"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment as-is")
	}

	if err := database.InitDB(); err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	log.Println("database ready")

	cache.InitRedis()

	redisClient, _ := cache.GetClient()
	store := database.NewStore(database.DB, redisClient)

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	store.StartRemoteFeed(feedCtx)

	// Reply-channel messages flow through the broker and land in the
	// circle's message timeline once consumed.
	adapter := mq.NewAdapter(redisClient)
	if err := adapter.RegisterHandler(func(circleID, text string) error {
		_, err := store.AppendMessage(context.Background(), circleID, models.MessageTypeSystem, text)
		return err
	}); err != nil {
		log.Printf("reply consumer registration failed: %v", err)
	}

	hub := handlers.NewHub()
	go hub.Run()

	manager := handlers.NewPlanningManager(store, mq.NewReplies(adapter), hub, cache.NewLockService())
	handler := handlers.NewPlanningHandler(manager, store)
	status := handlers.NewStatusHandler(hub, adapter)

	router := routes.SetupRouter(handler, manager, hub, status)
	srv := routes.StartServer(router)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	manager.Close()
	cancelFeed()
	store.StopRemoteFeed()
	adapter.Close()
	cache.CloseRedis()
	database.CloseDB()

	log.Println("server stopped")
}
