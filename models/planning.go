package models

import (
	"strings"
	"time"
)

// Stage is the current discrete step of a circle's event-planning workflow.
// The persisted value on the PlanningRecord is the single source of truth for
// workflow position; nothing derives it from other fields.
type Stage string

const (
	StageIdle                Stage = "idle"
	StagePlanningActivity    Stage = "planning_activity"
	StageActivityPollClosed  Stage = "activity_poll_closed"
	StagePlanningPlace       Stage = "planning_place"
	StagePlacePollClosed     Stage = "place_poll_closed"
	StagePendingConfirmation Stage = "pending_confirmation"
	StageEventConfirmed      Stage = "event_confirmed"
)

// stageOrder gives the forward ordering of the workflow. A record only ever
// moves to a higher-ordered stage; the only way back is a full reset.
var stageOrder = map[Stage]int{
	StageIdle:                0,
	StagePlanningActivity:    1,
	StageActivityPollClosed:  2,
	StagePlanningPlace:       3,
	StagePlacePollClosed:     4,
	StagePendingConfirmation: 5,
	StageEventConfirmed:      6,
}

// Order returns the stage's position in the forward workflow, or -1 for an
// unknown stage value.
func (s Stage) Order() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// PollKind selects which of the two polls on a PlanningRecord an operation
// targets.
type PollKind string

const (
	PollKindActivity PollKind = "activity"
	PollKindPlace    PollKind = "place"
)

// PollOption is a single choice within a poll.
type PollOption struct {
	Text string `json:"text"`
}

// Poll is a question with options and per-voter choices, bounded by a
// deadline. It is embedded in the PlanningRecord and stored as JSON.
type Poll struct {
	Question        string            `json:"question"`
	Options         []PollOption      `json:"options"`
	Votes           map[string]string `json:"votes"`
	Deadline        time.Time         `json:"deadline"`
	AllowNewOptions bool              `json:"allow_new_options"`
}

// HasOption reports whether text exactly matches a current option.
func (p *Poll) HasOption(text string) bool {
	if p == nil {
		return false
	}
	for _, opt := range p.Options {
		if opt.Text == text {
			return true
		}
	}
	return false
}

// HasOptionFold reports whether text matches a current option ignoring case.
// Duplicate options are rejected case-insensitively when appending.
func (p *Poll) HasOptionFold(text string) bool {
	if p == nil {
		return false
	}
	for _, opt := range p.Options {
		if strings.EqualFold(opt.Text, text) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that coordinator snapshots never share vote
// maps or option slices with callers.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = make([]PollOption, len(p.Options))
	copy(cp.Options, p.Options)
	cp.Votes = make(map[string]string, len(p.Votes))
	for voter, choice := range p.Votes {
		cp.Votes[voter] = choice
	}
	return &cp
}

// PlanningRecord is the durable state of one planning cycle. At most one
// non-archived record exists per circle; archived records are kept for
// history and excluded from the active lookup.
type PlanningRecord struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	CircleID        string     `gorm:"size:64;index;not null" json:"circle_id"`
	Stage           Stage      `gorm:"size:32;not null" json:"stage"`
	ActivityPoll    *Poll      `gorm:"serializer:json" json:"activity_poll,omitempty"`
	PlacePoll       *Poll      `gorm:"serializer:json" json:"place_poll,omitempty"`
	WinningActivity string     `gorm:"size:255" json:"winning_activity,omitempty"`
	WinningPlace    string     `gorm:"size:255" json:"winning_place,omitempty"`
	Archived        bool       `gorm:"default:false;index" json:"archived"`
	CreatedAt       time.Time  `json:"created_at"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

// Poll returns the poll sub-record addressed by kind, which may be nil if
// that stage has not been reached yet.
func (r *PlanningRecord) Poll(kind PollKind) *Poll {
	if r == nil {
		return nil
	}
	if kind == PollKindPlace {
		return r.PlacePoll
	}
	return r.ActivityPoll
}

// Clone returns a deep copy of the record.
func (r *PlanningRecord) Clone() *PlanningRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ActivityPoll = r.ActivityPoll.Clone()
	cp.PlacePoll = r.PlacePoll.Clone()
	if r.ArchivedAt != nil {
		t := *r.ArchivedAt
		cp.ArchivedAt = &t
	}
	return &cp
}
