package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRule is returned (wrapped) for any malformed recurrence rule.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
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

// WeekdayNum is a single BYDAY entry. N is the ordinal within the month
// (2 = second, -1 = last); 0 means every such weekday.
type WeekdayNum struct {
	Day time.Weekday
	N   int
}

func (w WeekdayNum) String() string {
	if w.N == 0 {
		return dayAbbrev[w.Day]
	}
	return strconv.Itoa(w.N) + dayAbbrev[w.Day]
}

type Rule struct {
	Freq       Freq
	Interval   int          // default 1; 2 = biweekly when Freq=Weekly
	ByDay      []WeekdayNum // WEEKLY: which days; MONTHLY: which (nth) weekdays; DAILY: weekday filter
	ByMonthDay []int        // MONTHLY only; negative values count from the end of the month
	Count      int          // max occurrences including the first (0 = unlimited)
	Until      *time.Time   // inclusive upper bound on occurrence starts (nil = no limit)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Parse parses an RRULE string like "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
// An optional "RRULE:" prefix is accepted.
func Parse(rule string) (Rule, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return Rule{}, invalid("empty rule")
	}

	r := Rule{Interval: 1}
	var hasFreq bool
	seen := make(map[string]bool)

	parts := strings.Split(strings.TrimSuffix(rule, ";"), ";")
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			return Rule{}, invalid("invalid rule part %q", part)
		}
		key, val := strings.ToUpper(strings.TrimSpace(kv[0])), strings.ToUpper(strings.TrimSpace(kv[1]))
		if seen[key] {
			return Rule{}, invalid("duplicate key %q", key)
		}
		seen[key] = true

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, invalid("unknown frequency %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, invalid("invalid interval %q", val)
			}
			r.Interval = n

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, err := parseWeekdayNum(strings.TrimSpace(d))
				if err != nil {
					return Rule{}, err
				}
				r.ByDay = append(r.ByDay, wd)
			}

		case "BYMONTHDAY":
			for _, d := range strings.Split(val, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(d))
				if err != nil || n == 0 || n < -31 || n > 31 {
					return Rule{}, invalid("invalid BYMONTHDAY %q", d)
				}
				r.ByMonthDay = append(r.ByMonthDay, n)
			}

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, invalid("invalid count %q", val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				t, err = time.Parse("20060102", val)
				if err != nil {
					return Rule{}, invalid("invalid UNTIL %q", val)
				}
				// A date-only UNTIL covers the whole day.
				t = t.Add(24*time.Hour - time.Second)
			}
			r.Until = &t

		default:
			return Rule{}, invalid("unsupported rule key %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, invalid("FREQ is required")
	}
	if err := r.validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func parseWeekdayNum(s string) (WeekdayNum, error) {
	if len(s) < 2 {
		return WeekdayNum{}, invalid("unknown day %q", s)
	}
	wd, ok := dayNames[s[len(s)-2:]]
	if !ok {
		return WeekdayNum{}, invalid("unknown day %q", s)
	}
	w := WeekdayNum{Day: wd}
	if prefix := s[:len(s)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n == 0 || n < -5 || n > 5 {
			return WeekdayNum{}, invalid("invalid BYDAY ordinal %q", s)
		}
		w.N = n
	}
	return w, nil
}

func (r Rule) validate() error {
	if r.Interval < 1 {
		return invalid("interval must be positive")
	}
	if r.Count > 0 && r.Until != nil {
		return invalid("COUNT and UNTIL are mutually exclusive")
	}
	if len(r.ByMonthDay) > 0 && r.Freq != Monthly {
		return invalid("BYMONTHDAY requires FREQ=MONTHLY")
	}
	if len(r.ByDay) > 0 {
		if r.Freq == Yearly {
			return invalid("BYDAY is not supported with FREQ=YEARLY")
		}
		if len(r.ByMonthDay) > 0 {
			return invalid("BYDAY and BYMONTHDAY cannot be combined")
		}
		for _, wd := range r.ByDay {
			if wd.N != 0 && r.Freq != Monthly {
				return invalid("BYDAY ordinals require FREQ=MONTHLY")
			}
		}
	}
	return nil
}

// Validate reports whether a rule built in code (not via Parse) is well formed.
func (r Rule) Validate() error {
	return r.validate()
}

// String serializes the rule back to an RRULE string.
func (r Rule) String() string {
	var parts []string
	parts = append(parts, "FREQ="+freqNames[r.Freq])

	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}

	if len(r.ByDay) > 0 {
		var days []string
		for _, d := range r.ByDay {
			days = append(days, d.String())
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if len(r.ByMonthDay) > 0 {
		var days []string
		for _, d := range r.ByMonthDay {
			days = append(days, strconv.Itoa(d))
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}

	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	}

	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";")
}

var ordinalNames = map[int]string{
	1: "first", 2: "second", 3: "third", 4: "fourth", 5: "fifth",
	-1: "last", -2: "second to last", -3: "third to last", -4: "fourth to last", -5: "fifth to last",
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Freq {
	case Daily:
		prefix := "Repeats daily"
		if r.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d days", r.Interval)
		}
		if len(r.ByDay) > 0 {
			return prefix + " on " + strings.Join(shortDays(r.ByDay), ", ")
		}
		return prefix
	case Weekly:
		prefix := "Repeats weekly"
		if r.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d weeks", r.Interval)
		}
		if len(r.ByDay) > 0 {
			return prefix + " on " + strings.Join(shortDays(r.ByDay), ", ")
		}
		return prefix
	case Monthly:
		prefix := "Repeats monthly"
		if r.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d months", r.Interval)
		}
		if len(r.ByMonthDay) > 0 {
			var days []string
			for _, d := range r.ByMonthDay {
				if d == -1 {
					days = append(days, "the last day")
				} else {
					days = append(days, fmt.Sprintf("day %d", d))
				}
			}
			return prefix + " on " + strings.Join(days, ", ")
		}
		if len(r.ByDay) > 0 {
			var days []string
			for _, d := range r.ByDay {
				if d.N == 0 {
					days = append(days, "every "+d.Day.String())
				} else {
					days = append(days, "the "+ordinalNames[d.N]+" "+d.Day.String())
				}
			}
			return prefix + " on " + strings.Join(days, ", ")
		}
		return prefix
	case Yearly:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d years", r.Interval)
		}
		return "Repeats yearly"
	}
	return ""
}

func shortDays(days []WeekdayNum) []string {
	var names []string
	for _, d := range sortedWeekdays(days) {
		names = append(names, d.String()[:3])
	}
	return names
}

// sortedWeekdays returns the distinct weekdays of days ordered Monday first.
func sortedWeekdays(days []WeekdayNum) []time.Weekday {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, d := range days {
		if !seen[d.Day] {
			seen[d.Day] = true
			out = append(out, d.Day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return mondayOffset(out[i]) < mondayOffset(out[j]) })
	return out
}

func mondayOffset(wd time.Weekday) int {
	offset := int(wd) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return offset
}
