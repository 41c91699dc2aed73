package planning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circle-planning-backend/models"
)

// fakeStore is an in-memory Store with synchronous subscription pushes, so
// tests observe the reduced view immediately after each write commits.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int
	planning map[string]*models.PlanningRecord
	events   map[string]*models.EventRecord

	planningSubs map[string][]func(*models.PlanningRecord)
	eventSubs    map[string][]func(*models.EventRecord)

	failWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		planning:     map[string]*models.PlanningRecord{},
		events:       map[string]*models.EventRecord{},
		planningSubs: map[string][]func(*models.PlanningRecord){},
		eventSubs:    map[string][]func(*models.EventRecord){},
	}
}

var errStoreDown = fmt.Errorf("store unavailable")

func (s *fakeStore) id() string {
	s.nextID++
	return fmt.Sprintf("rec-%d", s.nextID)
}

func (s *fakeStore) CreatePlanningRecord(_ context.Context, rec *models.PlanningRecord) (string, error) {
	s.mu.Lock()
	if s.failWrites {
		s.mu.Unlock()
		return "", errStoreDown
	}
	rec = rec.Clone()
	rec.ID = s.id()
	rec.CreatedAt = time.Now()
	s.planning[rec.ID] = rec
	s.mu.Unlock()
	s.pushPlanning(rec)
	return rec.ID, nil
}

func (s *fakeStore) ActivePlanningRecord(_ context.Context, circleID string) (*models.PlanningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.planning {
		if rec.CircleID == circleID && !rec.Archived {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdatePlanningRecord(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	if s.failWrites {
		s.mu.Unlock()
		return errStoreDown
	}
	rec, ok := s.planning[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("planning record %s not found", id)
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
		}
	}
	updated := rec.Clone()
	s.mu.Unlock()
	s.pushPlanning(updated)
	return nil
}

func (s *fakeStore) CreateEventRecord(_ context.Context, ev *models.EventRecord) (string, error) {
	s.mu.Lock()
	if s.failWrites {
		s.mu.Unlock()
		return "", errStoreDown
	}
	ev = ev.Clone()
	ev.ID = s.id()
	ev.CreatedAt = time.Now()
	s.events[ev.ID] = ev
	s.mu.Unlock()
	s.pushEvent(ev)
	return ev.ID, nil
}

func (s *fakeStore) GetEventRecord(_ context.Context, id string) (*models.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok {
		return ev.Clone(), nil
	}
	return nil, nil
}

func (s *fakeStore) NextConfirmedEvent(_ context.Context, circleID string) (*models.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.CircleID == circleID && ev.Status == models.EventConfirmed {
			return ev.Clone(), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateEventRecord(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	if s.failWrites {
		s.mu.Unlock()
		return errStoreDown
	}
	ev, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("event record %s not found", id)
	}
	for key, value := range fields {
		switch key {
		case "status":
			ev.Status = value.(models.EventStatus)
		case "rsvps":
			ev.RSVPs = value.(map[string]models.RSVPStatus)
		}
	}
	updated := ev.Clone()
	s.mu.Unlock()
	s.pushEvent(updated)
	return nil
}

func (s *fakeStore) DeleteEventRecords(_ context.Context, circleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	for id, ev := range s.events {
		if ev.CircleID == circleID {
			delete(s.events, id)
		}
	}
	return nil
}

func (s *fakeStore) SubscribePlanning(circleID string, fn func(*models.PlanningRecord)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planningSubs[circleID] = append(s.planningSubs[circleID], fn)
	return func() {}
}

func (s *fakeStore) SubscribeEvents(circleID string, fn func(*models.EventRecord)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSubs[circleID] = append(s.eventSubs[circleID], fn)
	return func() {}
}

func (s *fakeStore) pushPlanning(rec *models.PlanningRecord) {
	s.mu.Lock()
	subs := append([]func(*models.PlanningRecord){}, s.planningSubs[rec.CircleID]...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(rec.Clone())
	}
}

func (s *fakeStore) pushEvent(ev *models.EventRecord) {
	s.mu.Lock()
	subs := append([]func(*models.EventRecord){}, s.eventSubs[ev.CircleID]...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev.Clone())
	}
}

// confirm flips an event to confirmed the way the out-of-scope admin flow
// does, store-side, so the coordinator only learns of it via the push.
func (s *fakeStore) confirm(t *testing.T, eventID string) {
	t.Helper()
	require.NoError(t, s.UpdateEventRecord(context.Background(), eventID, map[string]any{
		"status": models.EventConfirmed,
	}))
}

type replyRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *replyRecorder) Append(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, text)
	return nil
}

func (r *replyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore, *replyRecorder) {
	t.Helper()
	store := newFakeStore()
	replies := &replyRecorder{}
	coord, err := NewCoordinator(context.Background(), "circle-1", store, replies)
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	return coord, store, replies
}

func futureDeadline() time.Time { return time.Now().Add(24 * time.Hour) }

func activitySpec() PollSpec {
	return PollSpec{
		Question:        "What should we do?",
		Options:         []string{"Bowling", "Dinner"},
		Deadline:        futureDeadline(),
		AllowNewOptions: true,
	}
}

func placeSpec() PollSpec {
	return PollSpec{
		Question:        "Where?",
		Options:         []string{"Downtown", "Riverside"},
		Deadline:        futureDeadline(),
		AllowNewOptions: false,
	}
}

func TestHappyPathEndsConfirmed(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	assert.Equal(t, models.StageIdle, coord.View().Stage())

	// Stage must never move backward along the way.
	lastOrder := coord.View().Stage().Order()
	checkForward := func() {
		order := coord.View().Stage().Order()
		assert.GreaterOrEqual(t, order, lastOrder, "stage went backward")
		lastOrder = order
	}

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	checkForward()
	assert.Equal(t, models.StagePlanningActivity, coord.View().Stage())

	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "bob", "Bowling"))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "carol", "Dinner"))
	checkForward()

	require.NoError(t, coord.FinishVoting(ctx, models.PollKindActivity, "admin"))
	checkForward()
	closed, ok := coord.View().(ActivityClosedView)
	require.True(t, ok)
	assert.Equal(t, "Bowling", closed.Winner)

	require.NoError(t, coord.AdvanceAfterClose(ctx, "admin"))
	require.NoError(t, coord.StartPlacePoll(ctx, "admin", placeSpec()))
	checkForward()
	assert.Equal(t, models.StagePlanningPlace, coord.View().Stage())

	require.NoError(t, coord.CastVote(ctx, models.PollKindPlace, "alice", "Downtown"))
	require.NoError(t, coord.FinishVoting(ctx, models.PollKindPlace, "admin"))
	checkForward()

	require.NoError(t, coord.AdvanceAfterClose(ctx, "admin"))
	checkForward()
	pending, ok := coord.View().(PendingConfirmationView)
	require.True(t, ok)
	assert.Equal(t, "Bowling", pending.WinningActivity)
	assert.Equal(t, "Downtown", pending.WinningPlace)
	require.NotEmpty(t, pending.EventID)

	// External admin flow confirms; the machine observes via subscription.
	store.confirm(t, pending.EventID)
	checkForward()
	confirmed, ok := coord.View().(EventConfirmedView)
	require.True(t, ok)
	assert.Equal(t, models.StageEventConfirmed, coord.View().Stage())
	assert.Equal(t, "Bowling", confirmed.Event.Title)
	assert.Equal(t, "Downtown", confirmed.Event.Location)
}

func TestStartActivityPollRejectsSecondCycle(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	err := coord.StartActivityPoll(ctx, "admin", activitySpec())
	assert.ErrorIs(t, err, ErrCycleActive)
	assert.True(t, IsWarning(err))
	assert.Equal(t, models.StagePlanningActivity, coord.View().Stage())
}

func TestStartActivityPollValidatesSpec(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	err := coord.StartActivityPoll(ctx, "admin", PollSpec{Question: " ", Options: []string{"a", "b"}})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	err = coord.StartActivityPoll(ctx, "admin", PollSpec{Question: "Q?", Options: []string{"only"}})
	assert.ErrorIs(t, err, ErrTooFewOptions)

	err = coord.StartActivityPoll(ctx, "admin", PollSpec{Question: "Q?", Options: []string{"Dinner", "dinner"}})
	assert.ErrorIs(t, err, ErrDuplicateOption)

	assert.Equal(t, models.StageIdle, coord.View().Stage())
}

func TestVoteOverwrite(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Dinner"))

	view := coord.View().(ActivityPollView)
	assert.Len(t, view.Poll.Votes, 1)
	assert.Equal(t, "Dinner", view.Poll.Votes["alice"])
}

func TestVoteValidation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	assert.ErrorIs(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"), ErrNoActiveCycle)

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))

	assert.ErrorIs(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Skydiving"), ErrUnknownOption)
	assert.ErrorIs(t, coord.CastVote(ctx, models.PollKindPlace, "alice", "Bowling"), ErrWrongStage)
}

func TestVoteAfterDeadlineRejected(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coord, err := NewCoordinator(context.Background(), "circle-1", store, nil,
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	ctx := context.Background()

	spec := activitySpec()
	spec.Deadline = now.Add(time.Hour)
	require.NoError(t, coord.StartActivityPoll(ctx, "admin", spec))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, coord.CastVote(ctx, models.PollKindActivity, "bob", "Dinner"), ErrDeadlinePassed)
	assert.ErrorIs(t, coord.AddOption(ctx, models.PollKindActivity, "bob", "Karaoke"), ErrDeadlinePassed)

	// Finishing early or late stays allowed; only mutation is gated.
	assert.NoError(t, coord.FinishVoting(ctx, models.PollKindActivity, "admin"))
}

func TestAddOptionDuplicateCaseInsensitive(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	require.NoError(t, coord.AddOption(ctx, models.PollKindActivity, "alice", "Karaoke"))

	err := coord.AddOption(ctx, models.PollKindActivity, "bob", "karaoke")
	assert.ErrorIs(t, err, ErrDuplicateOption)
	assert.True(t, IsWarning(err))

	view := coord.View().(ActivityPollView)
	var matches int
	for _, opt := range view.Poll.Options {
		if opt.Text == "Karaoke" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
	assert.Len(t, view.Poll.Options, 3)
}

func TestAddOptionLockedPoll(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	spec := activitySpec()
	spec.AllowNewOptions = false
	require.NoError(t, coord.StartActivityPoll(ctx, "admin", spec))
	assert.ErrorIs(t, coord.AddOption(ctx, models.PollKindActivity, "alice", "Karaoke"), ErrOptionsLocked)
}

func TestFinishVotingWithoutVotes(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	err := coord.FinishVoting(ctx, models.PollKindActivity, "admin")
	assert.ErrorIs(t, err, ErrNoVotes)
	assert.Equal(t, models.StagePlanningActivity, coord.View().Stage())
}

func TestStartNewCycleArchivesAndResets(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))
	require.NoError(t, coord.FinishVoting(ctx, models.PollKindActivity, "admin"))
	require.NoError(t, coord.StartPlacePoll(ctx, "admin", placeSpec()))
	require.NoError(t, coord.CastVote(ctx, models.PollKindPlace, "alice", "Downtown"))
	require.NoError(t, coord.FinishVoting(ctx, models.PollKindPlace, "admin"))
	require.NoError(t, coord.AdvanceAfterClose(ctx, "admin"))

	recID := coord.Record().ID
	require.NoError(t, coord.StartNewCycle(ctx, "admin"))

	assert.Equal(t, models.StageIdle, coord.View().Stage())
	assert.Nil(t, coord.Record())
	assert.Nil(t, coord.Event())

	store.mu.Lock()
	archived := store.planning[recID]
	remainingEvents := len(store.events)
	store.mu.Unlock()
	require.NotNil(t, archived)
	assert.True(t, archived.Archived)
	assert.NotNil(t, archived.ArchivedAt)
	assert.Zero(t, remainingEvents)

	// Already idle: a second reset is a safe no-op.
	assert.NoError(t, coord.StartNewCycle(ctx, "admin"))
	assert.Equal(t, models.StageIdle, coord.View().Stage())
}

func TestRSVPOnlyLogsChanges(t *testing.T) {
	coord, store, replies := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))
	require.NoError(t, coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))
	require.NoError(t, coord.FinishVoting(ctx, models.PollKindActivity, "admin"))
	require.NoError(t, coord.StartPlacePoll(ctx, "admin", placeSpec()))
	require.NoError(t, coord.CastVote(ctx, models.PollKindPlace, "alice", "Downtown"))
	require.NoError(t, coord.FinishVoting(ctx, models.PollKindPlace, "admin"))
	require.NoError(t, coord.AdvanceAfterClose(ctx, "admin"))

	pending := coord.View().(PendingConfirmationView)

	assert.ErrorIs(t, coord.CastRSVP(ctx, pending.EventID, "alice", models.RSVPYes), ErrEventNotConfirmed)

	store.confirm(t, pending.EventID)

	before := replies.count()
	require.NoError(t, coord.CastRSVP(ctx, pending.EventID, "alice", models.RSVPYes))
	assert.Equal(t, before+1, replies.count())

	// Same answer again: write happens, no log entry.
	require.NoError(t, coord.CastRSVP(ctx, pending.EventID, "alice", models.RSVPYes))
	assert.Equal(t, before+1, replies.count())

	require.NoError(t, coord.CastRSVP(ctx, pending.EventID, "alice", models.RSVPNo))
	assert.Equal(t, before+2, replies.count())

	assert.ErrorIs(t, coord.CastRSVP(ctx, pending.EventID, "alice", "perhaps"), ErrBadRSVP)
	assert.ErrorIs(t, coord.CastRSVP(ctx, "missing", "alice", models.RSVPYes), ErrUnknownEvent)
}

func TestStoreFailureLeavesViewUntouched(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.StartActivityPoll(ctx, "admin", activitySpec()))

	store.mu.Lock()
	store.failWrites = true
	store.mu.Unlock()

	err := coord.CastVote(ctx, models.PollKindActivity, "alice", "Bowling")
	require.Error(t, err)
	assert.False(t, IsWarning(err))

	// No rollback, no retry: the view simply still shows the last committed
	// state.
	view := coord.View().(ActivityPollView)
	assert.Empty(t, view.Poll.Votes)
}

func TestCoordinatorResumesFromStore(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	first, err := NewCoordinator(ctx, "circle-1", store, nil)
	require.NoError(t, err)
	require.NoError(t, first.StartActivityPoll(ctx, "admin", activitySpec()))
	require.NoError(t, first.CastVote(ctx, models.PollKindActivity, "alice", "Bowling"))
	first.Close()

	second, err := NewCoordinator(ctx, "circle-1", store, nil)
	require.NoError(t, err)
	t.Cleanup(second.Close)

	view, ok := second.View().(ActivityPollView)
	require.True(t, ok)
	assert.Equal(t, "Bowling", view.Poll.Votes["alice"])
}
