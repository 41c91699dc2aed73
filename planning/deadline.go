package planning

import "time"

// Countdown is the decomposition of the time left until a poll deadline.
// Components use floor division; a remainder of 900ms reports zero seconds.
type Countdown struct {
	Remaining time.Duration `json:"-"`
	Days      int           `json:"days"`
	Hours     int           `json:"hours"`
	Minutes   int           `json:"minutes"`
	Seconds   int           `json:"seconds"`
	Expired   bool          `json:"expired"`
}

// EvaluateDeadline compares deadline against now and returns the remaining
// time split into days/hours/minutes/seconds for display, plus an expired
// flag that gates mutating actions. Pure; callable at any rate.
func EvaluateDeadline(deadline, now time.Time) Countdown {
	if !now.Before(deadline) {
		return Countdown{Expired: true}
	}
	remaining := deadline.Sub(now)
	secs := int(remaining / time.Second)
	return Countdown{
		Remaining: remaining,
		Days:      secs / 86400,
		Hours:     secs / 3600 % 24,
		Minutes:   secs / 60 % 60,
		Seconds:   secs % 60,
	}
}
