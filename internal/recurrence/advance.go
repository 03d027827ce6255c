package recurrence

import (
	"fmt"
	"time"
)

// MaxSteps bounds a single Advance call. A daily session left alone for a
// century needs well under this many steps.
const MaxSteps = 100_000

// Window is one occurrence of a session. End - Start is the session's fixed
// duration and is preserved by Advance.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the occurrence.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Advance fast-forwards the window until its start falls on or after the
// calendar day of reference. A window already on or after that day is returned
// unchanged, so repeated calls on the same day are no-ops.
//
// Non-recurring patterns return the window unchanged with ErrNotRecurring.
func Advance(w Window, p Pattern, reference time.Time) (Window, error) {
	if err := p.validate(); err != nil {
		return w, err
	}
	if !p.Recurs() {
		return w, ErrNotRecurring
	}

	duration := w.Duration()
	p = p.Anchored(w.Start)
	cutoff := startOfDay(reference)

	for steps := 0; w.Start.Before(cutoff); steps++ {
		if steps >= MaxSteps {
			return w, fmt.Errorf("%w: %s still before %s after %d steps",
				ErrAdvancementStalled, w.Start.Format(time.DateOnly), cutoff.Format(time.DateOnly), steps)
		}
		next := step(w.Start, p)
		if !next.After(w.Start) {
			return w, fmt.Errorf("%w: %s pattern did not move %s", ErrAdvancementStalled, p, w.Start.Format(time.DateTime))
		}
		w = Window{Start: next, End: next.Add(duration)}
	}
	return w, nil
}

// step moves start to the pattern's next occurrence, keeping the time of day.
func step(start time.Time, p Pattern) time.Time {
	switch p.kind {
	case Daily:
		return start.AddDate(0, 0, 1)
	case Weekly:
		return start.AddDate(0, 0, 7)
	case Monthly:
		return addMonthClamped(start, p.monthDay)
	case Custom:
		current := start.Weekday()
		if next, ok := p.weekdays.after(current); ok {
			return start.AddDate(0, 0, int(next-current))
		}
		first, _ := p.weekdays.first()
		return start.AddDate(0, 0, 7-int(current)+int(first))
	default:
		return start
	}
}

// addMonthClamped moves t into the following calendar month, landing on
// anchorDay or on that month's last day when it is shorter.
func addMonthClamped(t time.Time, anchorDay int) time.Time {
	y, m, _ := t.Date()
	hh, mm, ss := t.Clock()
	firstOfNext := time.Date(y, m+1, 1, hh, mm, ss, t.Nanosecond(), t.Location())
	day := min(anchorDay, daysIn(firstOfNext.Year(), firstOfNext.Month(), t.Location()))
	return firstOfNext.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
