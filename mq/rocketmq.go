package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// TopicCircleReplies carries reply-channel messages when RocketMQ is the
// broker. Messages are sharded by circle so one circle's replies stay
// ordered.
const TopicCircleReplies = "circle_replies"

// RocketMQ wraps a producer/consumer pair on one topic. Enabled only when
// ROCKETMQ_ENABLE=true; Redis is the default broker.
type RocketMQ struct {
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer

	mu        sync.RWMutex
	processed map[string]bool
}

func nameServerAddr() string {
	if addr := os.Getenv("ROCKETMQ_NAMESRV_ADDR"); addr != "" {
		return addr
	}
	return "localhost:9876"
}

// NewRocketMQ connects a producer to the configured name server.
func NewRocketMQ() (*RocketMQ, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServerAddr()}),
		producer.WithGroupName("reply_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	return &RocketMQ{
		producer:  p,
		processed: map[string]bool{},
	}, nil
}

// SendReply publishes one reply message, sharded by circle ID.
func (r *RocketMQ) SendReply(circleID, text string) error {
	msg := ReplyMessage{
		CircleID:  circleID,
		Text:      text,
		Timestamp: time.Now().Unix(),
		MessageID: generateMessageID(circleID),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reply message: %w", err)
	}

	message := primitive.NewMessage(TopicCircleReplies, body)
	message.WithTag("reply")
	message.WithKeys([]string{msg.MessageID})
	message.WithShardingKey(circleID)

	if _, err := r.producer.SendSync(context.Background(), message); err != nil {
		return fmt.Errorf("send reply message: %w", err)
	}
	return nil
}

func (r *RocketMQ) isProcessed(messageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processed[messageID]
}

func (r *RocketMQ) markProcessed(messageID string) {
	r.mu.Lock()
	r.processed[messageID] = true
	r.mu.Unlock()

	// Entries expire so the map cannot grow without bound.
	time.AfterFunc(24*time.Hour, func() {
		r.mu.Lock()
		delete(r.processed, messageID)
		r.mu.Unlock()
	})
}

// StartConsumer subscribes an ordered consumer that feeds handler.
func (r *RocketMQ) StartConsumer(handler Handler) error {
	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{nameServerAddr()}),
		consumer.WithGroupName("reply_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		consumer.WithConsumerOrder(true),
	)
	if err != nil {
		return fmt.Errorf("create rocketmq consumer: %w", err)
	}

	err = c.Subscribe(TopicCircleReplies, consumer.MessageSelector{
		Type:       consumer.TAG,
		Expression: "reply",
	}, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, m := range msgs {
			var msg ReplyMessage
			if err := json.Unmarshal(m.Body, &msg); err != nil {
				log.Printf("bad reply message on %s: %v", TopicCircleReplies, err)
				continue
			}
			if r.isProcessed(msg.MessageID) {
				continue
			}
			if err := handler(msg.CircleID, msg.Text); err != nil {
				log.Printf("handling reply %s failed: %v", msg.MessageID, err)
				return consumer.ConsumeRetryLater, nil
			}
			r.markProcessed(msg.MessageID)
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCircleReplies, err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start rocketmq consumer: %w", err)
	}
	r.consumer = c
	return nil
}

// Close shuts down the producer and consumer.
func (r *RocketMQ) Close() {
	if r.consumer != nil {
		if err := r.consumer.Shutdown(); err != nil {
			log.Printf("shutting down rocketmq consumer: %v", err)
		}
	}
	if r.producer != nil {
		if err := r.producer.Shutdown(); err != nil {
			log.Printf("shutting down rocketmq producer: %v", err)
		}
	}
}
