package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Once // sentinel: single occurrence, no recurrence
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
}

// Legacy shorthand rule strings written by older clients.
var legacyNames = map[string]Freq{
	"Daily":   Daily,
	"Weekly":  Weekly,
	"Monthly": Monthly,
	"Once":    Once,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// monthly BYDAY with a set position, e.g. "2SU" or "-1FR"
var setPosDayRegexp = regexp.MustCompile(`^(-?\d+)([A-Z]{2})$`)

// Options is a decoded recurrence rule.
type Options struct {
	Freq       Freq
	Interval   int            // default 1; 2 = biweekly when Freq=Weekly
	ByDay      []time.Weekday // WEEKLY: which days; MONTHLY set-pos: single day
	ByMonthDay int            // MONTHLY: day of month (0 = unset)
	BySetPos   int            // MONTHLY: 1..4 = Nth weekday, -1 = last (0 = unset)
}

// IsOnce reports whether the options describe a non-recurring task.
func (o Options) IsOnce() bool {
	return o.Freq == Once
}

// Generate serializes options to a rule string like
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE". The output is deterministic:
// INTERVAL is omitted when 1, BYDAY is only emitted for weekly rules, and a
// monthly rule emits either BYMONTHDAY or a set-pos BYDAY, never both.
func Generate(o Options) string {
	if o.Freq == Once {
		return "Once"
	}

	parts := []string{"FREQ=" + freqNames[o.Freq]}

	if o.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", o.Interval))
	}

	switch o.Freq {
	case Weekly:
		if len(o.ByDay) > 0 {
			var days []string
			for _, d := range o.ByDay {
				days = append(days, dayAbbrev[d])
			}
			parts = append(parts, "BYDAY="+strings.Join(days, ","))
		}
	case Monthly:
		if o.ByMonthDay > 0 {
			parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", o.ByMonthDay))
		} else if o.BySetPos != 0 && len(o.ByDay) > 0 {
			parts = append(parts, fmt.Sprintf("BYDAY=%d%s", o.BySetPos, dayAbbrev[o.ByDay[0]]))
		}
	}

	return strings.Join(parts, ";")
}

// Parse decodes a rule string into Options. Parsing is total: legacy
// shorthands ("Daily", "Weekly", "Monthly", "Once") normalize to their
// structured equivalents, and anything malformed falls back to a plain
// daily rule rather than failing. Stored rules written by newer code must
// never make a task unschedulable.
func Parse(rule string) Options {
	o := Options{Freq: Daily, Interval: 1}

	if f, ok := legacyNames[rule]; ok {
		o.Freq = f
		return o
	}

	for _, part := range strings.Split(rule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]

		switch key {
		case "FREQ":
			if f, ok := freqFromName[val]; ok {
				o.Freq = f
			}

		case "INTERVAL":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 {
				o.Interval = n
			}

		case "BYDAY":
			if m := setPosDayRegexp.FindStringSubmatch(val); m != nil {
				// monthly set-pos form
				pos, _ := strconv.Atoi(m[1])
				if wd, ok := dayNames[m[2]]; ok {
					o.BySetPos = pos
					o.ByDay = []time.Weekday{wd}
				}
				continue
			}
			var days []time.Weekday
			for _, d := range strings.Split(val, ",") {
				if wd, ok := dayNames[strings.TrimSpace(d)]; ok {
					days = append(days, wd)
				}
			}
			if len(days) > 0 {
				o.ByDay = days
			}

		case "BYMONTHDAY":
			if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= 31 {
				o.ByMonthDay = n
			}
		}
	}

	return o
}

// Describe returns a human-readable description of the rule.
func Describe(o Options) string {
	switch o.Freq {
	case Once:
		return "One time only"
	case Daily:
		if o.Interval > 1 {
			return fmt.Sprintf("Repeats every %d days", o.Interval)
		}
		return "Repeats daily"
	case Weekly:
		prefix := "Repeats weekly"
		if o.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d weeks", o.Interval)
		}
		if len(o.ByDay) > 0 {
			var names []string
			for _, d := range o.ByDay {
				names = append(names, d.String()[:3])
			}
			return prefix + " on " + strings.Join(names, ", ")
		}
		return prefix
	case Monthly:
		prefix := "Repeats monthly"
		if o.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d months", o.Interval)
		}
		if o.ByMonthDay > 0 {
			return fmt.Sprintf("%s on day %d", prefix, o.ByMonthDay)
		}
		if o.BySetPos != 0 && len(o.ByDay) > 0 {
			ord := fmt.Sprintf("%d%s", o.BySetPos, ordinalSuffix(o.BySetPos))
			if o.BySetPos == -1 {
				ord = "last"
			}
			return fmt.Sprintf("%s on the %s %s", prefix, ord, o.ByDay[0].String())
		}
		return prefix
	}
	return ""
}

func ordinalSuffix(n int) string {
	switch n {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
