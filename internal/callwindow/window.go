package callwindow

import (
	"errors"
	"time"

	"github.com/acme/call-task-engine/internal/domain"
)

// ErrNoCallableWindow reports that no valid day exists within the search
// horizon. This is a configuration error (typically an empty workday set),
// surfaced loudly instead of looping forever.
var ErrNoCallableWindow = errors.New("callwindow: no callable day within horizon")

// rollForwardHorizonDays bounds the search for the next valid day.
const rollForwardHorizonDays = 14

// Next computes the earliest eligible time for the next call attempt:
// now plus the retry interval, rolled forward to the agent's next workday
// window when the raw candidate falls outside it. The result is always
// strictly after now.
func Next(now time.Time, policy domain.AgentPolicy) (time.Time, error) {
	interval := policy.RetryInterval
	if interval <= 0 {
		interval = time.Minute
	}

	loc := policy.Location()
	candidate := now.Add(interval).In(loc)

	if within(candidate, policy) {
		return candidate, nil
	}

	from := policy.CallFrom
	for offset := 0; offset <= rollForwardHorizonDays; offset++ {
		dayStart := time.Date(candidate.Year(), candidate.Month(), candidate.Day()+offset,
			from.Hour(), from.Minute(), 0, 0, loc)
		if !dayStart.After(candidate) {
			// Today's window already opened behind the candidate.
			continue
		}
		if policy.AllowsWeekday(dayStart.Weekday()) {
			return dayStart, nil
		}
	}

	return time.Time{}, ErrNoCallableWindow
}

// within reports whether t falls inside the agent's calling window. A
// window whose end is numerically before its start spans midnight and is
// valid on two calendar days: after call_from on a workday, and before
// call_to on the day following a workday.
func within(t time.Time, policy domain.AgentPolicy) bool {
	minute := t.Hour()*60 + t.Minute()
	from := policy.CallFrom.Hour()*60 + policy.CallFrom.Minute()
	to := policy.CallTo.Hour()*60 + policy.CallTo.Minute()

	if from == to {
		return false
	}

	if to < from {
		if minute >= from {
			return policy.AllowsWeekday(t.Weekday())
		}
		if minute < to {
			return policy.AllowsWeekday(t.AddDate(0, 0, -1).Weekday())
		}
		return false
	}

	if !policy.AllowsWeekday(t.Weekday()) {
		return false
	}
	return minute >= from && minute < to
}
