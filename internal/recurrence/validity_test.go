package recurrence

import (
	"testing"
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
)

func localDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// 2024-01-01 is a Monday.
var anchor = localDate(2024, time.January, 1)

func TestIsValidOnDaily(t *testing.T) {
	o := Parse("FREQ=DAILY")
	for d := 0; d < 5; d++ {
		day := anchor.AddDate(0, 0, d)
		if !IsValidOn(day, o, anchor) {
			t.Errorf("daily should be valid on %s", dates.Key(day))
		}
	}
}

func TestIsValidOnDailyInterval(t *testing.T) {
	o := Parse("FREQ=DAILY;INTERVAL=2")
	cases := []struct {
		offset int
		want   bool
	}{
		{0, true}, {1, false}, {2, true}, {3, false}, {4, true},
	}
	for _, c := range cases {
		day := anchor.AddDate(0, 0, c.offset)
		if got := IsValidOn(day, o, anchor); got != c.want {
			t.Errorf("day +%d: got %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestIsValidOnWeeklyByDay(t *testing.T) {
	o := Parse("FREQ=WEEKLY;BYDAY=MO,WE,FR")
	cases := []struct {
		day  time.Time
		want bool
	}{
		{localDate(2024, time.January, 1), true},  // Mon
		{localDate(2024, time.January, 2), false}, // Tue
		{localDate(2024, time.January, 3), true},  // Wed
		{localDate(2024, time.January, 4), false}, // Thu
		{localDate(2024, time.January, 5), true},  // Fri
		{localDate(2024, time.January, 6), false}, // Sat
		{localDate(2024, time.January, 8), true},  // next Mon
	}
	for _, c := range cases {
		if got := IsValidOn(c.day, o, anchor); got != c.want {
			t.Errorf("%s: got %v, want %v", dates.Key(c.day), got, c.want)
		}
	}
}

func TestIsValidOnBiweekly(t *testing.T) {
	o := Parse("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO")
	if !IsValidOn(localDate(2024, time.January, 1), o, anchor) {
		t.Error("anchor Monday should be valid")
	}
	if IsValidOn(localDate(2024, time.January, 8), o, anchor) {
		t.Error("off-week Monday should not be valid")
	}
	if !IsValidOn(localDate(2024, time.January, 15), o, anchor) {
		t.Error("second on-week Monday should be valid")
	}
}

func TestIsValidOnWeeklyBeforeAnchor(t *testing.T) {
	o := Parse("FREQ=WEEKLY;BYDAY=MO")
	if IsValidOn(localDate(2023, time.December, 25), o, anchor) {
		t.Error("weeks before the anchor are never valid")
	}
}

func TestIsValidOnMonthlyByMonthDay(t *testing.T) {
	o := Parse("FREQ=MONTHLY;BYMONTHDAY=15")
	if !IsValidOn(localDate(2024, time.January, 15), o, anchor) {
		t.Error("Jan 15 should be valid")
	}
	if IsValidOn(localDate(2024, time.January, 16), o, anchor) {
		t.Error("Jan 16 should not be valid")
	}
	if !IsValidOn(localDate(2024, time.March, 15), o, anchor) {
		t.Error("Mar 15 should be valid")
	}
}

func TestIsValidOnMonthlyInterval(t *testing.T) {
	o := Parse("FREQ=MONTHLY;INTERVAL=2;BYMONTHDAY=1")
	if !IsValidOn(localDate(2024, time.March, 1), o, anchor) {
		t.Error("Mar 1 should be valid for a bimonthly rule anchored in January")
	}
	if IsValidOn(localDate(2024, time.February, 1), o, anchor) {
		t.Error("Feb 1 should not be valid")
	}
}

func TestIsValidOnMonthlySecondSunday(t *testing.T) {
	o := Parse("FREQ=MONTHLY;BYDAY=2SU")
	if !IsValidOn(localDate(2024, time.January, 14), o, anchor) {
		t.Error("Jan 14 2024 is the second Sunday")
	}
	if IsValidOn(localDate(2024, time.January, 7), o, anchor) {
		t.Error("Jan 7 2024 is the first Sunday")
	}
	if IsValidOn(localDate(2024, time.January, 15), o, anchor) {
		t.Error("Jan 15 2024 is a Monday")
	}
}

func TestIsValidOnMonthlyLastFriday(t *testing.T) {
	o := Parse("FREQ=MONTHLY;BYDAY=-1FR")
	if !IsValidOn(localDate(2024, time.January, 26), o, anchor) {
		t.Error("Jan 26 2024 is the last Friday")
	}
	if IsValidOn(localDate(2024, time.January, 19), o, anchor) {
		t.Error("Jan 19 2024 is not the last Friday")
	}
}

func TestIsValidOnOnce(t *testing.T) {
	o := Parse("Once")
	if IsValidOn(anchor, o, anchor) {
		t.Error("one-shot rules never match by rule; they schedule by stored due date")
	}
}

func TestNextDueDateAtEmptyRule(t *testing.T) {
	now := localDate(2024, time.June, 10)
	if got := NextDueDateAt("", "", now); got != "2024-06-10" {
		t.Errorf("got %q, want 2024-06-10", got)
	}
}

func TestNextDueDateAtOnce(t *testing.T) {
	now := localDate(2024, time.June, 10)
	if got := NextDueDateAt("Once", "", now); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestNextDueDateAtDaily(t *testing.T) {
	now := localDate(2024, time.June, 10)
	if got := NextDueDateAt("FREQ=DAILY", "", now); got != "2024-06-10" {
		t.Errorf("no completion: got %q, want 2024-06-10", got)
	}
	if got := NextDueDateAt("FREQ=DAILY", "2024-06-10", now); got != "2024-06-11" {
		t.Errorf("completed today: got %q, want 2024-06-11", got)
	}
}

func TestNextDueDateAtDailyInterval(t *testing.T) {
	now := localDate(2024, time.June, 10)
	if got := NextDueDateAt("FREQ=DAILY;INTERVAL=3", "2024-06-10", now); got != "2024-06-13" {
		t.Errorf("got %q, want 2024-06-13", got)
	}
}

func TestNextDueDateAtWeekly(t *testing.T) {
	// 2024-06-12 is a Wednesday; next Monday is 2024-06-17.
	now := localDate(2024, time.June, 12)
	if got := NextDueDateAt("FREQ=WEEKLY;BYDAY=MO", "2024-06-10", now); got != "2024-06-17" {
		t.Errorf("got %q, want 2024-06-17", got)
	}
}

func TestNextDueDateAtMonthly(t *testing.T) {
	now := localDate(2024, time.June, 20)
	if got := NextDueDateAt("FREQ=MONTHLY;BYMONTHDAY=15", "2024-06-15", now); got != "2024-07-15" {
		t.Errorf("got %q, want 2024-07-15", got)
	}
}
