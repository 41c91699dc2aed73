package mq

import (
	"fmt"
	"time"
)

// ReplyMessage is one queued entry for a circle's reply channel. MessageID
// makes redelivery idempotent.
type ReplyMessage struct {
	CircleID  string `json:"circle_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
}

// Handler consumes one reply message. Returning an error requeues the
// message until the retry budget runs out.
type Handler func(circleID, text string) error

func generateMessageID(circleID string) string {
	return fmt.Sprintf("reply_%s_%d", circleID, time.Now().UnixNano())
}
