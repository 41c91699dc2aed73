package mq

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Adapter picks a broker for reply-channel messages: RocketMQ when
// ROCKETMQ_ENABLE=true, otherwise a Redis list queue, otherwise direct
// in-process delivery so a broker outage never loses replies silently.
type Adapter struct {
	rocket  *RocketMQ
	redisMQ *RedisMQ

	mu      sync.RWMutex
	handler Handler
}

// NewAdapter selects the broker. redisClient may be nil.
func NewAdapter(redisClient *redis.Client) *Adapter {
	a := &Adapter{}

	if os.Getenv("ROCKETMQ_ENABLE") == "true" {
		rocket, err := NewRocketMQ()
		if err != nil {
			log.Printf("rocketmq unavailable, falling back: %v", err)
		} else {
			a.rocket = rocket
			log.Println("reply channel broker: rocketmq")
			return a
		}
	}

	if redisClient != nil {
		a.redisMQ = NewRedisMQ(redisClient)
		log.Println("reply channel broker: redis")
		return a
	}

	log.Println("reply channel broker: direct in-process delivery")
	return a
}

// RegisterHandler installs the consumer and starts it on the active broker.
func (a *Adapter) RegisterHandler(handler Handler) error {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()

	switch {
	case a.rocket != nil:
		return a.rocket.StartConsumer(handler)
	case a.redisMQ != nil:
		a.redisMQ.RegisterHandler(handler)
		return a.redisMQ.Start()
	default:
		return nil
	}
}

// SendReply hands one reply message to the active broker.
func (a *Adapter) SendReply(circleID, text string) error {
	switch {
	case a.rocket != nil:
		return a.rocket.SendReply(circleID, text)
	case a.redisMQ != nil:
		return a.redisMQ.SendReply(circleID, text)
	default:
		a.mu.RLock()
		handler := a.handler
		a.mu.RUnlock()
		if handler == nil {
			log.Printf("reply for circle %s dropped, no handler registered", circleID)
			return nil
		}
		return handler(circleID, text)
	}
}

// QueueStats reports broker state for the status endpoint.
func (a *Adapter) QueueStats() map[string]interface{} {
	stats := map[string]interface{}{}
	switch {
	case a.rocket != nil:
		stats["type"] = "rocketmq"
	case a.redisMQ != nil:
		stats["type"] = "redis"
		stats["queues"] = a.redisMQ.GetQueueStats()
	default:
		stats["type"] = "direct"
	}
	return stats
}

// RetryDeadLetters replays dead-lettered messages. Redis broker only.
func (a *Adapter) RetryDeadLetters() error {
	if a.redisMQ != nil {
		return a.redisMQ.RetryDeadLetters()
	}
	return nil
}

// Close shuts the active broker down.
func (a *Adapter) Close() {
	if a.rocket != nil {
		a.rocket.Close()
	}
	if a.redisMQ != nil {
		a.redisMQ.Stop()
	}
}

// Replies adapts the broker to the planning coordinator's reply-channel
// contract.
type Replies struct {
	adapter *Adapter
}

func NewReplies(adapter *Adapter) *Replies {
	return &Replies{adapter: adapter}
}

func (r *Replies) Append(ctx context.Context, circleID, text string) error {
	return r.adapter.SendReply(circleID, text)
}
