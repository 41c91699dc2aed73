package models

import "time"

// MessageTypeSystem marks reply-channel entries written by the planning
// workflow itself rather than by a member.
const MessageTypeSystem = "system"

// Message is one entry in a circle's append-only reply channel.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CircleID  string    `gorm:"size:64;index;not null" json:"circle_id"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
