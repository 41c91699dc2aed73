package planning

import "errors"

// Warning is a declined transition. A failed precondition is not a fault:
// the operation writes nothing and the caller receives the warning as a
// value, since the UI is expected to have gated the action already and this
// is a defensive backstop.
type Warning struct {
	reason string
}

func (w *Warning) Error() string { return w.reason }

func warn(reason string) *Warning { return &Warning{reason: reason} }

// IsWarning reports whether err is (or wraps) a precondition warning, as
// opposed to a store failure.
func IsWarning(err error) bool {
	var w *Warning
	return errors.As(err, &w)
}

var (
	// ErrCycleActive declines starting an activity poll while a
	// non-archived planning record already exists.
	ErrCycleActive = warn("a planning cycle is already underway")

	// ErrWrongStage declines any operation invoked outside the stage it
	// belongs to.
	ErrWrongStage = warn("operation is not valid in the current stage")

	// ErrNoActiveCycle declines poll operations when no planning record
	// exists for the circle.
	ErrNoActiveCycle = warn("no planning cycle is underway")

	// ErrDeadlinePassed declines votes and new options after the poll
	// deadline.
	ErrDeadlinePassed = warn("the poll deadline has passed")

	// ErrUnknownOption declines a vote for text that is not a current
	// option.
	ErrUnknownOption = warn("vote does not match a current option")

	// ErrDuplicateOption declines appending an option whose text matches an
	// existing one ignoring case.
	ErrDuplicateOption = warn("an option with this text already exists")

	// ErrOptionsLocked declines appending options to a poll created with
	// allow_new_options disabled.
	ErrOptionsLocked = warn("this poll does not accept new options")

	// ErrEmptyOption declines appending an option with no text.
	ErrEmptyOption = warn("an option needs text")

	// ErrNoVotes declines closing a poll before anyone has voted.
	ErrNoVotes = warn("no votes have been cast")

	// ErrEmptyQuestion declines creating a poll without a question.
	ErrEmptyQuestion = warn("a poll needs a question")

	// ErrTooFewOptions declines creating a poll with fewer than two
	// distinct options.
	ErrTooFewOptions = warn("a poll needs at least two options")

	// ErrEventNotConfirmed declines RSVPs against an event that has not
	// been confirmed yet.
	ErrEventNotConfirmed = warn("the event has not been confirmed")

	// ErrUnknownEvent declines RSVPs against an event the coordinator does
	// not know.
	ErrUnknownEvent = warn("unknown event")

	// ErrBadRSVP declines RSVP values outside yes/maybe/no.
	ErrBadRSVP = warn("rsvp must be yes, maybe or no")
)
