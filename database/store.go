package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"circle-planning-backend/models"
)

// Store is the GORM-backed document store behind the planning coordinator.
// Every committed write is fanned out to local subscribers and, when Redis
// is available, published so coordinators on other instances resync too.
type Store struct {
	db       *gorm.DB
	redis    *redis.Client
	instance string

	mu           sync.RWMutex
	nextSub      int
	planningSubs map[string]map[int]func(*models.PlanningRecord)
	eventSubs    map[string]map[int]func(*models.EventRecord)

	cancelRemote context.CancelFunc
}

// NewStore wraps db. redisClient may be nil; the store then fans out to
// local subscribers only.
func NewStore(db *gorm.DB, redisClient *redis.Client) *Store {
	return &Store{
		db:           db,
		redis:        redisClient,
		instance:     uuid.NewString(),
		planningSubs: map[string]map[int]func(*models.PlanningRecord){},
		eventSubs:    map[string]map[int]func(*models.EventRecord){},
	}
}

func planningChannel(circleID string) string { return "circle:" + circleID + ":planning" }
func eventChannel(circleID string) string    { return "circle:" + circleID + ":events" }

// recordEnvelope carries a pushed record between instances. Origin lets an
// instance skip its own publications, which it already delivered locally.
type recordEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// CreatePlanningRecord implements planning.Store.
func (s *Store) CreatePlanningRecord(ctx context.Context, rec *models.PlanningRecord) (string, error) {
	rec = rec.Clone()
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("create planning record: %w", err)
	}
	s.publishPlanning(ctx, rec)
	return rec.ID, nil
}

// ActivePlanningRecord implements planning.Store. At most one non-archived
// record exists per circle; absence is not an error.
func (s *Store) ActivePlanningRecord(ctx context.Context, circleID string) (*models.PlanningRecord, error) {
	var rec models.PlanningRecord
	err := s.db.WithContext(ctx).
		Where("circle_id = ? AND archived = ?", circleID, false).
		Order("created_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query planning record: %w", err)
	}
	return &rec, nil
}

// UpdatePlanningRecord implements planning.Store. Partial updates are
// load-modify-save inside a transaction so the JSON poll columns round-trip
// through their serializer.
func (s *Store) UpdatePlanningRecord(ctx context.Context, id string, fields map[string]any) error {
	var updated *models.PlanningRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.PlanningRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return err
		}
		for key, value := range fields {
			switch key {
			case "stage":
				rec.Stage = value.(models.Stage)
			case "activity_poll":
				rec.ActivityPoll = value.(*models.Poll)
			case "place_poll":
				rec.PlacePoll = value.(*models.Poll)
			case "winning_activity":
				rec.WinningActivity = value.(string)
			case "winning_place":
				rec.WinningPlace = value.(string)
			case "archived":
				rec.Archived = value.(bool)
			case "archived_at":
				t := value.(time.Time)
				rec.ArchivedAt = &t
			default:
				return fmt.Errorf("unknown planning field %q", key)
			}
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update planning record: %w", err)
	}
	s.publishPlanning(ctx, updated)
	return nil
}

// CreateEventRecord implements planning.Store.
func (s *Store) CreateEventRecord(ctx context.Context, ev *models.EventRecord) (string, error) {
	ev = ev.Clone()
	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return "", fmt.Errorf("create event record: %w", err)
	}
	s.publishEvent(ctx, ev)
	return ev.ID, nil
}

// GetEventRecord implements planning.Store.
func (s *Store) GetEventRecord(ctx context.Context, id string) (*models.EventRecord, error) {
	var ev models.EventRecord
	err := s.db.WithContext(ctx).First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event record: %w", err)
	}
	return &ev, nil
}

// NextConfirmedEvent implements planning.Store: the earliest confirmed event
// still to come for the circle.
func (s *Store) NextConfirmedEvent(ctx context.Context, circleID string) (*models.EventRecord, error) {
	var ev models.EventRecord
	err := s.db.WithContext(ctx).
		Where("circle_id = ? AND status = ?", circleID, models.EventConfirmed).
		Order("created_at asc").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query confirmed event: %w", err)
	}
	return &ev, nil
}

// UpdateEventRecord implements planning.Store.
func (s *Store) UpdateEventRecord(ctx context.Context, id string, fields map[string]any) error {
	var updated *models.EventRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev models.EventRecord
		if err := tx.First(&ev, "id = ?", id).Error; err != nil {
			return err
		}
		for key, value := range fields {
			switch key {
			case "status":
				ev.Status = value.(models.EventStatus)
			case "rsvps":
				ev.RSVPs = value.(map[string]models.RSVPStatus)
			default:
				return fmt.Errorf("unknown event field %q", key)
			}
		}
		if err := tx.Save(&ev).Error; err != nil {
			return err
		}
		updated = ev.Clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update event record: %w", err)
	}
	s.publishEvent(ctx, updated)
	return nil
}

// DeleteEventRecords implements planning.Store.
func (s *Store) DeleteEventRecords(ctx context.Context, circleID string) error {
	if err := s.db.WithContext(ctx).
		Where("circle_id = ?", circleID).
		Delete(&models.EventRecord{}).Error; err != nil {
		return fmt.Errorf("delete event records: %w", err)
	}
	return nil
}

// SubscribePlanning implements planning.Store. Release the returned
// function on teardown, or the callback keeps firing.
func (s *Store) SubscribePlanning(circleID string, fn func(*models.PlanningRecord)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	if s.planningSubs[circleID] == nil {
		s.planningSubs[circleID] = map[int]func(*models.PlanningRecord){}
	}
	s.planningSubs[circleID][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.planningSubs[circleID], id)
	}
}

// SubscribeEvents implements planning.Store.
func (s *Store) SubscribeEvents(circleID string, fn func(*models.EventRecord)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	if s.eventSubs[circleID] == nil {
		s.eventSubs[circleID] = map[int]func(*models.EventRecord){}
	}
	s.eventSubs[circleID][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.eventSubs[circleID], id)
	}
}

func (s *Store) publishPlanning(ctx context.Context, rec *models.PlanningRecord) {
	s.notifyPlanning(rec)
	s.publishRemote(ctx, planningChannel(rec.CircleID), rec)
}

func (s *Store) publishEvent(ctx context.Context, ev *models.EventRecord) {
	s.notifyEvent(ev)
	s.publishRemote(ctx, eventChannel(ev.CircleID), ev)
}

func (s *Store) notifyPlanning(rec *models.PlanningRecord) {
	s.mu.RLock()
	subs := make([]func(*models.PlanningRecord), 0, len(s.planningSubs[rec.CircleID]))
	for _, fn := range s.planningSubs[rec.CircleID] {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(rec.Clone())
	}
}

func (s *Store) notifyEvent(ev *models.EventRecord) {
	s.mu.RLock()
	subs := make([]func(*models.EventRecord), 0, len(s.eventSubs[ev.CircleID]))
	for _, fn := range s.eventSubs[ev.CircleID] {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(ev.Clone())
	}
}

func (s *Store) publishRemote(ctx context.Context, channel string, record any) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		log.Printf("marshal record for %s failed: %v", channel, err)
		return
	}
	envelope, err := json.Marshal(recordEnvelope{Origin: s.instance, Payload: payload})
	if err != nil {
		log.Printf("marshal envelope for %s failed: %v", channel, err)
		return
	}
	// Fan-out to other instances is best effort; local delivery already
	// happened.
	if err := s.redis.Publish(ctx, channel, envelope).Err(); err != nil {
		log.Printf("publish to %s failed: %v", channel, err)
	}
}

// StartRemoteFeed subscribes to the cross-instance channels and re-delivers
// records published by other instances to local subscribers. No-op without
// Redis.
func (s *Store) StartRemoteFeed(ctx context.Context) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRemote = cancel
	s.mu.Unlock()

	sub := s.redis.PSubscribe(ctx, "circle:*:planning", "circle:*:events")
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handleRemote(msg)
			}
		}
	}()
	log.Println("store remote feed started")
}

func (s *Store) handleRemote(msg *redis.Message) {
	var envelope recordEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		log.Printf("bad envelope on %s: %v", msg.Channel, err)
		return
	}
	if envelope.Origin == s.instance {
		return
	}
	switch {
	case strings.HasSuffix(msg.Channel, ":planning"):
		var rec models.PlanningRecord
		if err := json.Unmarshal(envelope.Payload, &rec); err != nil {
			log.Printf("bad planning record on %s: %v", msg.Channel, err)
			return
		}
		s.notifyPlanning(&rec)
	default:
		var ev models.EventRecord
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			log.Printf("bad event record on %s: %v", msg.Channel, err)
			return
		}
		s.notifyEvent(&ev)
	}
}

// StopRemoteFeed cancels the cross-instance subscription.
func (s *Store) StopRemoteFeed() {
	s.mu.Lock()
	cancel := s.cancelRemote
	s.cancelRemote = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AppendMessage persists one reply-channel entry.
func (s *Store) AppendMessage(ctx context.Context, circleID, msgType, text string) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		CircleID:  circleID,
		Type:      msgType,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the circle's newest reply-channel entries, newest
// first.
func (s *Store) RecentMessages(ctx context.Context, circleID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("circle_id = ?", circleID).
		Order("created_at desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}
