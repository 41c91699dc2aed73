package planning

import "circle-planning-backend/models"

// StageView is what the UI renders. Each stage has its own view type
// carrying exactly the payload that stage needs, so a render branch can
// never reach for a field that does not exist yet. The interface is sealed:
// only the types in this file implement it.
type StageView interface {
	Stage() models.Stage
	sealed()
}

// IdleView is shown when the circle has no planning cycle underway.
type IdleView struct{}

func (IdleView) Stage() models.Stage { return models.StageIdle }
func (IdleView) sealed()             {}

// ActivityPollView carries the open activity poll.
type ActivityPollView struct {
	RecordID string
	Poll     models.Poll
}

func (ActivityPollView) Stage() models.Stage { return models.StagePlanningActivity }
func (ActivityPollView) sealed()             {}

// ActivityClosedView carries the closed activity poll and its winner.
type ActivityClosedView struct {
	RecordID string
	Poll     models.Poll
	Winner   string
}

func (ActivityClosedView) Stage() models.Stage { return models.StageActivityPollClosed }
func (ActivityClosedView) sealed()             {}

// PlacePollView carries the open place poll along with the already-decided
// activity.
type PlacePollView struct {
	RecordID        string
	WinningActivity string
	Poll            models.Poll
}

func (PlacePollView) Stage() models.Stage { return models.StagePlanningPlace }
func (PlacePollView) sealed()             {}

// PlaceClosedView carries the closed place poll and both winners.
type PlaceClosedView struct {
	RecordID        string
	Poll            models.Poll
	WinningActivity string
	WinningPlace    string
}

func (PlaceClosedView) Stage() models.Stage { return models.StagePlacePollClosed }
func (PlaceClosedView) sealed()             {}

// PendingConfirmationView is shown while the created event awaits an
// administrator's confirmation.
type PendingConfirmationView struct {
	RecordID        string
	EventID         string
	WinningActivity string
	WinningPlace    string
}

func (PendingConfirmationView) Stage() models.Stage { return models.StagePendingConfirmation }
func (PendingConfirmationView) sealed()             {}

// EventConfirmedView carries the confirmed event, RSVPs included.
type EventConfirmedView struct {
	RecordID string
	Event    models.EventRecord
}

func (EventConfirmedView) Stage() models.Stage { return models.StageEventConfirmed }
func (EventConfirmedView) sealed()             {}

// deriveView is the reducer from the latest committed snapshots to the view
// the UI reads. The coordinator never mutates a view in place; it only ever
// recomputes it here after a subscription push.
func deriveView(rec *models.PlanningRecord, event *models.EventRecord) StageView {
	if rec == nil || rec.Archived {
		return IdleView{}
	}
	switch rec.Stage {
	case models.StagePlanningActivity:
		if rec.ActivityPoll == nil {
			return IdleView{}
		}
		return ActivityPollView{RecordID: rec.ID, Poll: *rec.ActivityPoll.Clone()}
	case models.StageActivityPollClosed:
		if rec.ActivityPoll == nil {
			return IdleView{}
		}
		return ActivityClosedView{RecordID: rec.ID, Poll: *rec.ActivityPoll.Clone(), Winner: rec.WinningActivity}
	case models.StagePlanningPlace:
		if rec.PlacePoll == nil {
			return IdleView{}
		}
		return PlacePollView{RecordID: rec.ID, WinningActivity: rec.WinningActivity, Poll: *rec.PlacePoll.Clone()}
	case models.StagePlacePollClosed:
		if rec.PlacePoll == nil {
			return IdleView{}
		}
		return PlaceClosedView{
			RecordID:        rec.ID,
			Poll:            *rec.PlacePoll.Clone(),
			WinningActivity: rec.WinningActivity,
			WinningPlace:    rec.WinningPlace,
		}
	case models.StagePendingConfirmation, models.StageEventConfirmed:
		// Confirmation is observed, not owned: the record may still say
		// pending while the event subscription already delivered the
		// confirmed status.
		if event != nil && event.Status == models.EventConfirmed {
			return EventConfirmedView{RecordID: rec.ID, Event: *event.Clone()}
		}
		eventID := ""
		if event != nil {
			eventID = event.ID
		}
		return PendingConfirmationView{
			RecordID:        rec.ID,
			EventID:         eventID,
			WinningActivity: rec.WinningActivity,
			WinningPlace:    rec.WinningPlace,
		}
	default:
		return IdleView{}
	}
}
