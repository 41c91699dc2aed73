package handlers

import (
	"log"
	"net/http"
	"os"
	"time"

	"circle-planning-backend/database"
	"circle-planning-backend/models"
	"circle-planning-backend/planning"

	"github.com/gin-gonic/gin"
)

// PlanningHandler exposes the planning workflow over HTTP. Stage transitions
// run under the circle's distributed lock; votes, options and RSVPs do not
// and keep last-write-wins semantics.
type PlanningHandler struct {
	manager *PlanningManager
	store   *database.Store
}

func NewPlanningHandler(manager *PlanningManager, store *database.Store) *PlanningHandler {
	return &PlanningHandler{manager: manager, store: store}
}

// AdminOnly rejects requests without the configured admin key. The key is a
// shared secret for the circle administrators' app build; per-user
// authorization lives in the membership service in front of this one.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := os.Getenv("ADMIN_KEY")
		if expected == "" {
			expected = "admin"
		}
		if c.GetHeader("X-Admin-Key") != expected {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// stagePayload renders a stage view as the JSON the clients consume.
// Countdown is computed at render time so repeated GETs tick down.
func stagePayload(view planning.StageView) gin.H {
	now := time.Now()
	payload := gin.H{"stage": view.Stage()}
	switch v := view.(type) {
	case planning.IdleView:
	case planning.ActivityPollView:
		payload["record_id"] = v.RecordID
		payload["poll"] = v.Poll
		payload["countdown"] = planning.EvaluateDeadline(v.Poll.Deadline, now)
	case planning.ActivityClosedView:
		payload["record_id"] = v.RecordID
		payload["poll"] = v.Poll
		payload["winning_activity"] = v.Winner
	case planning.PlacePollView:
		payload["record_id"] = v.RecordID
		payload["winning_activity"] = v.WinningActivity
		payload["poll"] = v.Poll
		payload["countdown"] = planning.EvaluateDeadline(v.Poll.Deadline, now)
	case planning.PlaceClosedView:
		payload["record_id"] = v.RecordID
		payload["poll"] = v.Poll
		payload["winning_activity"] = v.WinningActivity
		payload["winning_place"] = v.WinningPlace
	case planning.PendingConfirmationView:
		payload["record_id"] = v.RecordID
		payload["event_id"] = v.EventID
		payload["winning_activity"] = v.WinningActivity
		payload["winning_place"] = v.WinningPlace
	case planning.EventConfirmedView:
		payload["record_id"] = v.RecordID
		payload["event"] = v.Event
	}
	return payload
}

// respondError maps a declined precondition to 409 with the warning text and
// anything else to a generic 500.
func respondError(c *gin.Context, err error) {
	if planning.IsWarning(err) {
		c.JSON(http.StatusConflict, gin.H{"warning": err.Error()})
		return
	}
	log.Printf("planning operation failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *PlanningHandler) coordinator(c *gin.Context) (*planning.Coordinator, bool) {
	coord, err := h.manager.Coordinator(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("loading coordinator for circle %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return coord, true
}

// GetPlanning returns the circle's current stage view.
func (h *PlanningHandler) GetPlanning(c *gin.Context) {
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	payload := stagePayload(coord.View())
	payload["circle_id"] = coord.CircleID()
	c.JSON(http.StatusOK, payload)
}

// StartPollInput describes a new activity or place poll.
type StartPollInput struct {
	ActorID         string    `json:"actor_id" binding:"required"`
	Question        string    `json:"question" binding:"required"`
	Options         []string  `json:"options" binding:"required"`
	Deadline        time.Time `json:"deadline" binding:"required"`
	AllowNewOptions bool      `json:"allow_new_options"`
}

func (in StartPollInput) spec() planning.PollSpec {
	return planning.PollSpec{
		Question:        in.Question,
		Options:         in.Options,
		Deadline:        in.Deadline,
		AllowNewOptions: in.AllowNewOptions,
	}
}

// StartActivityPoll opens a new planning cycle with its activity poll.
func (h *PlanningHandler) StartActivityPoll(c *gin.Context) {
	var input StartPollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	err := h.manager.WithStageLock(coord.CircleID(), func() error {
		return coord.StartActivityPoll(c.Request.Context(), input.ActorID, input.spec())
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stagePayload(coord.View()))
}

// StartPlacePoll opens the place poll once the activity poll is closed.
func (h *PlanningHandler) StartPlacePoll(c *gin.Context) {
	var input StartPollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	err := h.manager.WithStageLock(coord.CircleID(), func() error {
		return coord.StartPlacePoll(c.Request.Context(), input.ActorID, input.spec())
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stagePayload(coord.View()))
}

// VoteInput is one member's choice on the open poll.
type VoteInput struct {
	PollKind models.PollKind `json:"poll_kind" binding:"required,oneof=activity place"`
	VoterID  string          `json:"voter_id" binding:"required"`
	Option   string          `json:"option" binding:"required"`
}

// CastVote records or overwrites the voter's choice.
func (h *PlanningHandler) CastVote(c *gin.Context) {
	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := coord.CastVote(c.Request.Context(), input.PollKind, input.VoterID, input.Option); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}

// AddOptionInput appends a member-suggested option to the open poll.
type AddOptionInput struct {
	PollKind models.PollKind `json:"poll_kind" binding:"required,oneof=activity place"`
	UserID   string          `json:"user_id" binding:"required"`
	Text     string          `json:"text" binding:"required"`
}

// AddOption appends a new option when the poll allows it.
func (h *PlanningHandler) AddOption(c *gin.Context) {
	var input AddOptionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := coord.AddOption(c.Request.Context(), input.PollKind, input.UserID, input.Text); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}

// FinishInput closes a poll and tallies it.
type FinishInput struct {
	PollKind models.PollKind `json:"poll_kind" binding:"required,oneof=activity place"`
	ActorID  string          `json:"actor_id" binding:"required"`
}

// FinishVoting closes the poll and records the winner.
func (h *PlanningHandler) FinishVoting(c *gin.Context) {
	var input FinishInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	err := h.manager.WithStageLock(coord.CircleID(), func() error {
		return coord.FinishVoting(c.Request.Context(), input.PollKind, input.ActorID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}

// ActorInput carries just the acting administrator's ID.
type ActorInput struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// Advance moves past a closed poll: into the place poll prompt after the
// activity poll, or into pending confirmation after the place poll.
func (h *PlanningHandler) Advance(c *gin.Context) {
	var input ActorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	err := h.manager.WithStageLock(coord.CircleID(), func() error {
		return coord.AdvanceAfterClose(c.Request.Context(), input.ActorID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}

// Reset archives the current cycle and deletes the circle's events so a new
// cycle can begin.
func (h *PlanningHandler) Reset(c *gin.Context) {
	var input ActorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	err := h.manager.WithStageLock(coord.CircleID(), func() error {
		return coord.StartNewCycle(c.Request.Context(), input.ActorID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}
