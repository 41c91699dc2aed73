package models

import "time"

// EventStatus tracks whether a planned event has been confirmed by an
// administrator.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventConfirmed EventStatus = "confirmed"
)

// RSVPStatus is a member's attendance response to a confirmed event.
type RSVPStatus string

const (
	RSVPYes   RSVPStatus = "yes"
	RSVPMaybe RSVPStatus = "maybe"
	RSVPNo    RSVPStatus = "no"
)

// Valid reports whether s is one of the three accepted responses.
func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPYes, RSVPMaybe, RSVPNo:
		return true
	}
	return false
}

// EventRecord is created when a planning cycle reaches pending confirmation.
// Title and location are copied from the winning poll options at creation.
type EventRecord struct {
	ID        string                `gorm:"primaryKey;size:36" json:"id"`
	CircleID  string                `gorm:"size:64;index;not null" json:"circle_id"`
	Title     string                `gorm:"size:255;not null" json:"title"`
	Location  string                `gorm:"size:255" json:"location"`
	Status    EventStatus           `gorm:"size:16;not null;default:pending" json:"status"`
	RSVPs     map[string]RSVPStatus `gorm:"serializer:json;column:rsvps" json:"rsvps"`
	CreatedAt time.Time             `json:"created_at"`
	CreatedBy string                `gorm:"size:64" json:"created_by"`
}

// Clone returns a deep copy of the event record.
func (e *EventRecord) Clone() *EventRecord {
	if e == nil {
		return nil
	}
	cp := *e
	cp.RSVPs = make(map[string]RSVPStatus, len(e.RSVPs))
	for user, status := range e.RSVPs {
		cp.RSVPs[user] = status
	}
	return &cp
}
