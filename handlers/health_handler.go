package handlers

import (
	"net/http"
	"runtime"
	"time"

	"circle-planning-backend/cache"
	"circle-planning-backend/database"
	"circle-planning-backend/mq"

	"github.com/gin-gonic/gin"
)

// SystemInfo contains basic system metrics and information
type SystemInfo struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Uptime        string                 `json:"uptime"`
	StartTime     time.Time              `json:"start_time"`
	CurrentTime   time.Time              `json:"current_time"`
	GoVersion     string                 `json:"go_version"`
	NumGoroutine  int                    `json:"num_goroutine"`
	NumCPU        int                    `json:"num_cpu"`
	DBStatus      string                 `json:"db_status"`
	RedisStatus   string                 `json:"redis_status"`
	WSConnections int                    `json:"ws_connections"`
	ReplyQueue    map[string]interface{} `json:"reply_queue"`
}

var (
	startTime = time.Now()
	version   = "0.1.0"
)

// HealthCheck answers load balancer probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StatusHandler reports detailed system state.
type StatusHandler struct {
	hub     *Hub
	adapter *mq.Adapter
}

func NewStatusHandler(hub *Hub, adapter *mq.Adapter) *StatusHandler {
	return &StatusHandler{hub: hub, adapter: adapter}
}

// SystemStatus returns runtime, database, Redis and reply-queue state.
func (s *StatusHandler) SystemStatus(c *gin.Context) {
	dbStatus := "ok"
	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		dbStatus = "error"
	}

	redisStatus := "unavailable"
	if cache.Available() {
		redisStatus = "ok"
	}

	info := SystemInfo{
		Status:        "ok",
		Version:       version,
		Uptime:        time.Since(startTime).String(),
		StartTime:     startTime,
		CurrentTime:   time.Now(),
		GoVersion:     runtime.Version(),
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		DBStatus:      dbStatus,
		RedisStatus:   redisStatus,
		WSConnections: s.hub.ConnectionCount(),
	}
	if s.adapter != nil {
		info.ReplyQueue = s.adapter.QueueStats()
	}
	c.JSON(http.StatusOK, info)
}

// RetryDeadLetters replays dead-lettered reply messages. Admin only.
func (s *StatusHandler) RetryDeadLetters(c *gin.Context) {
	if s.adapter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reply queue not configured"})
		return
	}
	if err := s.adapter.RetryDeadLetters(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "dead letters requeued"})
}
