package planning

import (
	"context"

	"circle-planning-backend/models"
)

// Store is the document-store collaborator the coordinator writes through.
// The coordinator never reads after a write; it relies on the subscription
// push to learn the authoritative post-write state.
type Store interface {
	// CreatePlanningRecord persists a new record and returns its assigned ID.
	CreatePlanningRecord(ctx context.Context, rec *models.PlanningRecord) (string, error)

	// ActivePlanningRecord returns the circle's single non-archived record,
	// or nil without error when none exists.
	ActivePlanningRecord(ctx context.Context, circleID string) (*models.PlanningRecord, error)

	// UpdatePlanningRecord applies a partial field update to a record.
	UpdatePlanningRecord(ctx context.Context, id string, fields map[string]any) error

	// CreateEventRecord persists a new event and returns its assigned ID.
	CreateEventRecord(ctx context.Context, ev *models.EventRecord) (string, error)

	// GetEventRecord returns an event by ID, or nil without error when
	// absent.
	GetEventRecord(ctx context.Context, id string) (*models.EventRecord, error)

	// NextConfirmedEvent returns the circle's earliest upcoming confirmed
	// event, or nil without error when there is none.
	NextConfirmedEvent(ctx context.Context, circleID string) (*models.EventRecord, error)

	// UpdateEventRecord applies a partial field update to an event.
	UpdateEventRecord(ctx context.Context, id string, fields map[string]any) error

	// DeleteEventRecords removes every event for the circle.
	DeleteEventRecords(ctx context.Context, circleID string) error

	// SubscribePlanning delivers every committed planning-record change for
	// the circle until the returned release function is called.
	SubscribePlanning(circleID string, fn func(*models.PlanningRecord)) (unsubscribe func())

	// SubscribeEvents delivers every committed event-record change for the
	// circle until the returned release function is called.
	SubscribeEvents(circleID string, fn func(*models.EventRecord)) (unsubscribe func())
}

// Replies is the append-only reply/log channel. Appends are fire-and-forget:
// failures are logged by the implementation and never block a transition.
type Replies interface {
	Append(ctx context.Context, circleID, text string) error
}
