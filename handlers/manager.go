package handlers

import (
	"context"
	"log"
	"sync"
	"time"

	"circle-planning-backend/cache"
	"circle-planning-backend/database"
	"circle-planning-backend/planning"
)

// PlanningManager owns one coordinator per circle, created lazily on first
// request and kept alive so its store subscriptions stay warm. Stage changes
// are broadcast to the circle's WebSocket clients.
type PlanningManager struct {
	store   *database.Store
	replies planning.Replies
	hub     *Hub
	locks   *cache.LockService

	mu     sync.Mutex
	coords map[string]*planning.Coordinator
}

func NewPlanningManager(store *database.Store, replies planning.Replies, hub *Hub, locks *cache.LockService) *PlanningManager {
	return &PlanningManager{
		store:   store,
		replies: replies,
		hub:     hub,
		locks:   locks,
		coords:  map[string]*planning.Coordinator{},
	}
}

// Coordinator returns the circle's coordinator, creating it on first use.
func (m *PlanningManager) Coordinator(ctx context.Context, circleID string) (*planning.Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coord, ok := m.coords[circleID]; ok {
		return coord, nil
	}

	coord, err := planning.NewCoordinator(ctx, circleID, m.store, m.replies,
		planning.WithOnChange(func(view planning.StageView) {
			m.hub.Broadcast(circleID, stagePayload(view))
		}),
	)
	if err != nil {
		return nil, err
	}
	m.coords[circleID] = coord
	return coord, nil
}

// WithStageLock serializes a stage transition for the circle across every
// instance. Votes and RSVPs do not take it; last write wins there.
func (m *PlanningManager) WithStageLock(circleID string, action func() error) error {
	return m.locks.WithLock("planning:stage:"+circleID, 10*time.Second, action)
}

// RebroadcastExpired pushes a fresh snapshot for circles whose open poll
// deadline has passed, so connected clients flip to the closed-countdown UI
// without polling. Expiry never closes the poll itself; the deadline only
// gates votes and new options.
func (m *PlanningManager) RebroadcastExpired() {
	m.mu.Lock()
	coords := make(map[string]*planning.Coordinator, len(m.coords))
	for circleID, coord := range m.coords {
		coords[circleID] = coord
	}
	m.mu.Unlock()

	now := time.Now()
	for circleID, coord := range coords {
		view := coord.View()
		var deadline time.Time
		switch v := view.(type) {
		case planning.ActivityPollView:
			deadline = v.Poll.Deadline
		case planning.PlacePollView:
			deadline = v.Poll.Deadline
		default:
			continue
		}
		if planning.EvaluateDeadline(deadline, now).Expired {
			m.hub.Broadcast(circleID, stagePayload(view))
		}
	}
}

// Close tears down every coordinator and its subscriptions.
func (m *PlanningManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for circleID, coord := range m.coords {
		coord.Close()
		delete(m.coords, circleID)
	}
	log.Println("planning coordinators closed")
}
