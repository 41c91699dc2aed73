package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue keys. Messages move main -> processing atomically; messages that
// exhaust their retries land in the dead-letter list for manual replay.
const (
	MainQueueName       = "reply_queue"
	ProcessingQueueName = "reply_processing"
	DeadLetterQueueName = "reply_dead_letter"
	RetriesHashName     = "reply_retries"
	messageIDSetName    = "reply_message_ids"
)

// RedisMQ is a Redis-list message queue for reply-channel messages, with a
// processing queue, per-message retry counts and a dead-letter queue.
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	handler           Handler
	running           bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration
	retryDelay        time.Duration
	maxRetries        int
}

func NewRedisMQ(client *redis.Client) *RedisMQ {
	return &RedisMQ{
		client:            client,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        3,
	}
}

func (r *RedisMQ) RegisterHandler(handler Handler) {
	r.handler = handler
}

// SendReply enqueues one reply-channel message. Duplicate message IDs are
// dropped.
func (r *RedisMQ) SendReply(circleID, text string) error {
	return r.sendWithID(circleID, text, generateMessageID(circleID))
}

func (r *RedisMQ) sendWithID(circleID, text, messageID string) error {
	msg := ReplyMessage{
		CircleID:  circleID,
		Text:      text,
		Timestamp: time.Now().Unix(),
		MessageID: messageID,
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reply message: %w", err)
	}

	exists, err := r.client.SIsMember(r.ctx, messageIDSetName, messageID).Result()
	if err != nil {
		log.Printf("idempotency check failed, sending anyway: %v", err)
	} else if exists {
		log.Printf("duplicate reply message %s, skipping", messageID)
		return nil
	}

	if err := r.client.SAdd(r.ctx, messageIDSetName, messageID).Err(); err != nil {
		log.Printf("recording message id %s failed: %v", messageID, err)
	}
	r.client.Expire(r.ctx, messageIDSetName, 48*time.Hour)

	if err := r.client.LPush(r.ctx, MainQueueName, jsonData).Err(); err != nil {
		return fmt.Errorf("enqueue reply message: %w", err)
	}
	return nil
}

// Start launches the consumer loop and the processing-timeout sweeper.
func (r *RedisMQ) Start() error {
	if r.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if r.running {
		return nil
	}
	r.running = true

	r.wg.Add(2)
	go r.consumeLoop()
	go r.timeoutCheckLoop()
	log.Println("redis reply queue consumer started")
	return nil
}

func (r *RedisMQ) Stop() {
	if !r.running {
		return
	}
	close(r.stopChan)
	r.wg.Wait()
	r.running = false
	log.Println("redis reply queue consumer stopped")
}

func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			result, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, time.Second).Result()
			if err != nil {
				if err != redis.Nil {
					log.Printf("dequeue failed: %v", err)
				}
				continue
			}
			r.processMessage(result)
		}
	}
}

func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// checkTimeouts requeues messages stuck in the processing queue past the
// timeout, assuming their consumer died mid-flight.
func (r *RedisMQ) checkTimeouts() {
	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Printf("reading processing queue failed: %v", err)
		return
	}

	now := time.Now().Unix()
	for _, msgData := range messages {
		var msg ReplyMessage
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("bad message in processing queue: %v", err)
			r.moveToDeadLetter(msgData)
			continue
		}
		if now-msg.Timestamp > int64(r.processingTimeout.Seconds()) {
			r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
			r.requeueOrDrop(msg, msgData)
		}
	}
}

func (r *RedisMQ) processMessage(msgData string) {
	var msg ReplyMessage
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("bad reply message: %v", err)
		r.moveToDeadLetter(msgData)
		return
	}

	if err := r.handler(msg.CircleID, msg.Text); err != nil {
		log.Printf("handling reply %s failed: %v", msg.MessageID, err)
		r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
		r.requeueOrDrop(msg, msgData)
		return
	}
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

func (r *RedisMQ) requeueOrDrop(msg ReplyMessage, msgData string) {
	retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()
	if retries >= r.maxRetries {
		log.Printf("reply %s exceeded %d retries, dead-lettering", msg.MessageID, r.maxRetries)
		r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
		return
	}
	r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)

	msg.Timestamp = time.Now().Unix()
	updatedData, _ := json.Marshal(msg)
	time.AfterFunc(r.retryDelay, func() {
		r.client.LPush(r.ctx, MainQueueName, updatedData)
	})
}

func (r *RedisMQ) moveToDeadLetter(msgData string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// RetryDeadLetters moves every dead-lettered message back to the main queue
// and resets its retry count.
func (r *RedisMQ) RetryDeadLetters() error {
	messages, err := r.client.LRange(r.ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("reading dead-letter queue: %w", err)
	}

	count := 0
	for _, msgData := range messages {
		if err := r.client.LPush(r.ctx, MainQueueName, msgData).Err(); err != nil {
			log.Printf("requeue from dead-letter failed: %v", err)
			continue
		}
		r.client.LRem(r.ctx, DeadLetterQueueName, 1, msgData)

		var msg ReplyMessage
		if json.Unmarshal([]byte(msgData), &msg) == nil {
			r.client.HDel(r.ctx, RetriesHashName, msg.MessageID)
		}
		count++
	}
	log.Printf("moved %d messages from dead-letter back to main queue", count)
	return nil
}

// GetQueueStats returns the length of each queue.
func (r *RedisMQ) GetQueueStats() map[string]int64 {
	mainLen, _ := r.client.LLen(r.ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(r.ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(r.ctx, DeadLetterQueueName).Result()
	return map[string]int64{
		"main_queue":        mainLen,
		"processing_queue":  procLen,
		"dead_letter_queue": deadLen,
	}
}

// ClearAllQueues wipes every queue. Tests only.
func (r *RedisMQ) ClearAllQueues() error {
	return r.client.Del(r.ctx, MainQueueName, ProcessingQueueName, DeadLetterQueueName, RetriesHashName, messageIDSetName).Err()
}
