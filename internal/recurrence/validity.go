package recurrence

import (
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
)

// nextDueSearchDays bounds the NextDueDate scan. A rule that produces no
// occurrence within two years is a logic error, not something to loop on.
const nextDueSearchDays = 365 * 2

// IsValidOn reports whether date is a due occurrence of the rule, relative
// to the anchor date. All math is on local calendar days. Pure: the result
// depends only on (date, options, anchor).
func IsValidOn(date time.Time, o Options, anchor time.Time) bool {
	if o.Freq == Once {
		return false
	}
	if o.Interval < 1 {
		o.Interval = 1
	}

	switch o.Freq {
	case Daily:
		return dates.DaysBetween(anchor, date)%o.Interval == 0

	case Weekly:
		diffWeeks := dates.DaysBetween(dates.StartOfWeek(anchor), dates.StartOfWeek(date)) / 7
		if diffWeeks < 0 || diffWeeks%o.Interval != 0 {
			return false
		}
		if len(o.ByDay) == 0 {
			return true
		}
		for _, d := range o.ByDay {
			if date.Weekday() == d {
				return true
			}
		}
		return false

	case Monthly:
		diffMonths := (date.Year()-anchor.Year())*12 + int(date.Month()) - int(anchor.Month())
		if diffMonths < 0 || diffMonths%o.Interval != 0 {
			return false
		}
		if o.ByMonthDay > 0 {
			return date.Day() == o.ByMonthDay
		}
		if o.BySetPos != 0 && len(o.ByDay) > 0 {
			if date.Weekday() != o.ByDay[0] {
				return false
			}
			if o.BySetPos == -1 {
				// last occurrence of this weekday: a week later rolls into
				// the next month
				return date.AddDate(0, 0, 7).Month() != date.Month()
			}
			pos := (date.Day() + 6) / 7 // 1st..5th occurrence in the month
			return pos == o.BySetPos
		}
		return true
	}

	return false
}

// NextDueDate returns the local date key of the first due occurrence at or
// after today, or after the given last-completed date key when present.
// "Once" rules have no next occurrence and return "". The empty rule means
// "due today".
func NextDueDate(rule, lastCompleted string) string {
	return NextDueDateAt(rule, lastCompleted, time.Now())
}

// NextDueDateAt is NextDueDate evaluated against an explicit current time.
func NextDueDateAt(rule, lastCompleted string, now time.Time) string {
	today := dates.StartOfDay(now)
	if rule == "" {
		return dates.Key(today)
	}

	o := Parse(rule)
	if o.IsOnce() {
		return ""
	}

	// The anchor for interval math is the last completion when known,
	// otherwise today; a freshly completed task schedules forward from the
	// day it was handled.
	base := today
	if lastCompleted != "" {
		if t, err := dates.ParseKey(lastCompleted); err == nil {
			base = t
		}
	}

	candidate := base
	if lastCompleted != "" {
		candidate = candidate.AddDate(0, 0, 1)
	}

	for i := 0; i < nextDueSearchDays; i++ {
		if IsValidOn(candidate, o, base) {
			return dates.Key(candidate)
		}
		candidate = candidate.AddDate(0, 0, 1)
	}

	return ""
}
