package planning

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"circle-planning-backend/models"
)

// Clock supplies the current time; tests substitute a fixed one.
type Clock func() time.Time

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.now = clock }
}

// WithOnChange registers a callback invoked after every view change, with
// the new view. Called from the subscription goroutine; keep it quick.
func WithOnChange(fn func(StageView)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// Coordinator drives one circle's event-planning workflow. Transitions
// validate against the latest snapshot pushed by the store subscription,
// emit writes plus a reply-channel log entry, and never touch the view
// directly: the view is re-derived when the committed record comes back over
// the subscription, so two racing admins converge on the same stage.
type Coordinator struct {
	circleID string
	store    Store
	replies  Replies
	now      Clock
	onChange func(StageView)

	mu     sync.RWMutex
	record *models.PlanningRecord
	event  *models.EventRecord
	view   StageView

	teardown []func()
	closed   bool
}

// NewCoordinator loads the circle's current planning state and subscribes
// for changes. Close must be called to release the subscriptions.
func NewCoordinator(ctx context.Context, circleID string, store Store, replies Replies, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		circleID: circleID,
		store:    store,
		replies:  replies,
		now:      time.Now,
		view:     IdleView{},
	}
	for _, opt := range opts {
		opt(c)
	}

	rec, err := store.ActivePlanningRecord(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("load planning record: %w", err)
	}
	event, err := store.NextConfirmedEvent(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("load confirmed event: %w", err)
	}
	c.record = rec.Clone()
	c.event = event.Clone()
	c.view = deriveView(c.record, c.event)

	c.teardown = append(c.teardown,
		store.SubscribePlanning(circleID, c.applyPlanning),
		store.SubscribeEvents(circleID, c.applyEvent),
	)
	return c, nil
}

// Close releases the store subscriptions. In-flight writes that complete
// afterwards still land durably in the store; they just no longer update
// this coordinator.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	teardown := c.teardown
	c.teardown = nil
	c.mu.Unlock()

	for _, release := range teardown {
		release()
	}
}

// CircleID returns the circle this coordinator belongs to.
func (c *Coordinator) CircleID() string { return c.circleID }

// View returns the current stage view.
func (c *Coordinator) View() StageView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Record returns a copy of the latest planning record, or nil when idle.
func (c *Coordinator) Record() *models.PlanningRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.Clone()
}

// Event returns a copy of the latest known event record, or nil.
func (c *Coordinator) Event() *models.EventRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.event.Clone()
}

// Countdown evaluates the active poll's deadline, if any poll is open.
func (c *Coordinator) Countdown() (Countdown, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch v := c.view.(type) {
	case ActivityPollView:
		return EvaluateDeadline(v.Poll.Deadline, c.now()), true
	case PlacePollView:
		return EvaluateDeadline(v.Poll.Deadline, c.now()), true
	}
	return Countdown{}, false
}

// applyPlanning is the planning half of the reducer over subscription
// pushes.
func (c *Coordinator) applyPlanning(rec *models.PlanningRecord) {
	if rec == nil || rec.CircleID != c.circleID {
		return
	}
	c.mu.Lock()
	if rec.Archived {
		if c.record != nil && c.record.ID == rec.ID {
			c.record = nil
		}
	} else {
		c.record = rec.Clone()
	}
	c.refreshViewLocked()
}

// applyEvent is the event half of the reducer. Pending events are retained
// so the pending-confirmation view knows the event ID; a confirmed status
// flips the visible stage without any further planning-record write.
func (c *Coordinator) applyEvent(event *models.EventRecord) {
	if event == nil || event.CircleID != c.circleID {
		return
	}
	c.mu.Lock()
	c.event = event.Clone()
	c.refreshViewLocked()
}

// refreshViewLocked recomputes the view and fires onChange outside the lock.
// Callers must hold c.mu; the lock is released here.
func (c *Coordinator) refreshViewLocked() {
	c.view = deriveView(c.record, c.event)
	view := c.view
	notify := c.onChange
	c.mu.Unlock()
	if notify != nil {
		notify(view)
	}
}

// snapshot returns the current record/event pair under the read lock.
func (c *Coordinator) snapshot() (*models.PlanningRecord, *models.EventRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record, c.event
}

// PollSpec describes a poll to open.
type PollSpec struct {
	Question        string
	Options         []string
	Deadline        time.Time
	AllowNewOptions bool
}

func (s PollSpec) build() (*models.Poll, error) {
	if strings.TrimSpace(s.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	poll := &models.Poll{
		Question:        s.Question,
		Votes:           map[string]string{},
		Deadline:        s.Deadline,
		AllowNewOptions: s.AllowNewOptions,
	}
	for _, text := range s.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if poll.HasOptionFold(text) {
			return nil, ErrDuplicateOption
		}
		poll.Options = append(poll.Options, models.PollOption{Text: text})
	}
	if len(poll.Options) < 2 {
		return nil, ErrTooFewOptions
	}
	return poll, nil
}

// StartActivityPoll opens a new planning cycle. Declines while any
// non-archived record exists, so a double tap on the start button is a
// harmless no-op.
func (c *Coordinator) StartActivityPoll(ctx context.Context, actorID string, spec PollSpec) error {
	rec, _ := c.snapshot()
	if rec != nil {
		return ErrCycleActive
	}
	poll, err := spec.build()
	if err != nil {
		return err
	}
	newRec := &models.PlanningRecord{
		CircleID:     c.circleID,
		Stage:        models.StagePlanningActivity,
		ActivityPoll: poll,
	}
	if _, err := c.store.CreatePlanningRecord(ctx, newRec); err != nil {
		return fmt.Errorf("create planning record: %w", err)
	}
	c.log(ctx, fmt.Sprintf("%s started an activity poll: %s", actorID, poll.Question))
	return nil
}

// StartPlacePoll opens the place poll once the activity poll has closed.
func (c *Coordinator) StartPlacePoll(ctx context.Context, actorID string, spec PollSpec) error {
	rec, _ := c.snapshot()
	if rec == nil {
		return ErrNoActiveCycle
	}
	if rec.Stage != models.StageActivityPollClosed {
		return ErrWrongStage
	}
	poll, err := spec.build()
	if err != nil {
		return err
	}
	fields := map[string]any{
		"stage":      models.StagePlanningPlace,
		"place_poll": poll,
	}
	if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("update planning record: %w", err)
	}
	c.log(ctx, fmt.Sprintf("%s started a place poll: %s", actorID, poll.Question))
	return nil
}

// stageForKind maps a poll kind to the stage in which that poll is open.
func stageForKind(kind models.PollKind) models.Stage {
	if kind == models.PollKindPlace {
		return models.StagePlanningPlace
	}
	return models.StagePlanningActivity
}

func pollField(kind models.PollKind) string {
	if kind == models.PollKindPlace {
		return "place_poll"
	}
	return "activity_poll"
}

// openPoll returns the record and poll for kind iff that poll is currently
// open for mutation.
func (c *Coordinator) openPoll(kind models.PollKind) (*models.PlanningRecord, *models.Poll, error) {
	rec, _ := c.snapshot()
	if rec == nil {
		return nil, nil, ErrNoActiveCycle
	}
	if rec.Stage != stageForKind(kind) {
		return nil, nil, ErrWrongStage
	}
	poll := rec.Poll(kind)
	if poll == nil {
		return nil, nil, ErrNoActiveCycle
	}
	return rec, poll, nil
}

// CastVote records one voter's choice, overwriting any prior vote. Two
// concurrent casts are a last-write-wins race at the store; the most recent
// choice counts.
func (c *Coordinator) CastVote(ctx context.Context, kind models.PollKind, voterID, optionText string) error {
	rec, poll, err := c.openPoll(kind)
	if err != nil {
		return err
	}
	if EvaluateDeadline(poll.Deadline, c.now()).Expired {
		return ErrDeadlinePassed
	}
	if !poll.HasOption(optionText) {
		return ErrUnknownOption
	}
	updated := poll.Clone()
	if updated.Votes == nil {
		updated.Votes = map[string]string{}
	}
	updated.Votes[voterID] = optionText
	fields := map[string]any{pollField(kind): updated}
	if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("update planning record: %w", err)
	}
	c.log(ctx, fmt.Sprintf("%s voted in the %s poll", voterID, kind))
	return nil
}

// AddOption appends a participant-suggested option to an open poll.
func (c *Coordinator) AddOption(ctx context.Context, kind models.PollKind, actorID, text string) error {
	rec, poll, err := c.openPoll(kind)
	if err != nil {
		return err
	}
	if !poll.AllowNewOptions {
		return ErrOptionsLocked
	}
	if EvaluateDeadline(poll.Deadline, c.now()).Expired {
		return ErrDeadlinePassed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyOption
	}
	if poll.HasOptionFold(text) {
		return ErrDuplicateOption
	}
	updated := poll.Clone()
	updated.Options = append(updated.Options, models.PollOption{Text: text})
	fields := map[string]any{pollField(kind): updated}
	if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("update planning record: %w", err)
	}
	c.log(ctx, fmt.Sprintf("%s added the option %q to the %s poll", actorID, text, kind))
	return nil
}

// FinishVoting closes an open poll, tallies the votes and records the
// winner. Closing does not require the deadline to have passed; an
// organizer may finish early.
func (c *Coordinator) FinishVoting(ctx context.Context, kind models.PollKind, actorID string) error {
	rec, poll, err := c.openPoll(kind)
	if err != nil {
		return err
	}
	if len(poll.Votes) == 0 {
		return ErrNoVotes
	}
	result := Tally(poll.Votes)

	fields := map[string]any{}
	if kind == models.PollKindPlace {
		fields["stage"] = models.StagePlacePollClosed
		fields["winning_place"] = result.Winner
	} else {
		fields["stage"] = models.StageActivityPollClosed
		fields["winning_activity"] = result.Winner
	}
	if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("update planning record: %w", err)
	}
	c.log(ctx, fmt.Sprintf("%s closed the %s poll, winner: %s", actorID, kind, result.Winner))
	return nil
}

// AdvanceAfterClose moves the workflow past a closed poll. After the
// activity poll it is a no-op success: the caller follows up with
// StartPlacePoll. After the place poll it creates the pending event from the
// two winners.
func (c *Coordinator) AdvanceAfterClose(ctx context.Context, actorID string) error {
	rec, _ := c.snapshot()
	if rec == nil {
		return ErrNoActiveCycle
	}
	switch rec.Stage {
	case models.StageActivityPollClosed:
		return nil
	case models.StagePlacePollClosed:
		event := &models.EventRecord{
			CircleID:  c.circleID,
			Title:     rec.WinningActivity,
			Location:  rec.WinningPlace,
			Status:    models.EventPending,
			RSVPs:     map[string]models.RSVPStatus{},
			CreatedBy: actorID,
		}
		if _, err := c.store.CreateEventRecord(ctx, event); err != nil {
			return fmt.Errorf("create event record: %w", err)
		}
		fields := map[string]any{"stage": models.StagePendingConfirmation}
		if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
			return fmt.Errorf("update planning record: %w", err)
		}
		c.log(ctx, fmt.Sprintf("%s is waiting for confirmation of %s at %s", actorID, rec.WinningActivity, rec.WinningPlace))
		return nil
	default:
		return ErrWrongStage
	}
}

// CastRSVP records a member's attendance response on a confirmed event. A
// log entry is emitted only when the response actually changed.
func (c *Coordinator) CastRSVP(ctx context.Context, eventID, userID string, status models.RSVPStatus) error {
	if !status.Valid() {
		return ErrBadRSVP
	}
	event, err := c.store.GetEventRecord(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event record: %w", err)
	}
	if event == nil || event.CircleID != c.circleID {
		return ErrUnknownEvent
	}
	if event.Status != models.EventConfirmed {
		return ErrEventNotConfirmed
	}
	previous := event.RSVPs[userID]

	updated := event.Clone()
	if updated.RSVPs == nil {
		updated.RSVPs = map[string]models.RSVPStatus{}
	}
	updated.RSVPs[userID] = status
	fields := map[string]any{"rsvps": updated.RSVPs}
	if err := c.store.UpdateEventRecord(ctx, eventID, fields); err != nil {
		return fmt.Errorf("update event record: %w", err)
	}
	if previous != status {
		c.log(ctx, fmt.Sprintf("%s responded %s to %s", userID, status, event.Title))
	}
	return nil
}

// StartNewCycle archives the current planning record, deletes every event
// for the circle and returns the circle to idle. Destructive and not
// reversible. Safe to call when already idle.
func (c *Coordinator) StartNewCycle(ctx context.Context, actorID string) error {
	rec, _ := c.snapshot()

	if err := c.store.DeleteEventRecords(ctx, c.circleID); err != nil {
		return fmt.Errorf("delete event records: %w", err)
	}
	if rec != nil {
		archivedAt := c.now()
		fields := map[string]any{
			"archived":    true,
			"archived_at": archivedAt,
		}
		if err := c.store.UpdatePlanningRecord(ctx, rec.ID, fields); err != nil {
			return fmt.Errorf("archive planning record: %w", err)
		}
	}

	// The one transition that resets locally: the archived record and the
	// deleted events would otherwise leave stale references until the next
	// push.
	c.mu.Lock()
	c.record = nil
	c.event = nil
	c.refreshViewLocked()

	if rec != nil {
		c.log(ctx, fmt.Sprintf("%s started a new planning cycle", actorID))
	}
	return nil
}

// log appends a system entry to the reply channel. Fire-and-forget.
func (c *Coordinator) log(ctx context.Context, text string) {
	if c.replies == nil {
		return
	}
	if err := c.replies.Append(ctx, c.circleID, text); err != nil {
		log.Printf("reply append failed for circle %s: %v", c.circleID, err)
	}
}
