package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxOccurrences is the default ceiling on occurrences generated by one expansion.
const MaxOccurrences = 10000

// maxEmptyPeriods bounds how many consecutive periods may yield nothing before
// a rule is treated as exhausted (e.g. BYMONTHDAY=31 with INTERVAL=12 anchored in June).
const maxEmptyPeriods = 1000

// ErrExpansionLimit is returned when an expansion would generate more than
// the configured number of occurrences.
var ErrExpansionLimit = errors.New("expansion limit exceeded")

// Occurrence represents a single generated occurrence of a recurring event.
// OriginalStart is the start the rule produced; Start equals it until an
// exception moves the occurrence.
type Occurrence struct {
	OriginalStart time.Time
	Start         time.Time
	End           time.Time
}

// Expander expands rules with a configurable generation ceiling.
type Expander struct {
	Limit int
}

func (e Expander) limit() int {
	if e.Limit <= 0 {
		return MaxOccurrences
	}
	return e.Limit
}

// Expand generates the occurrences of a series whose first occurrence spans
// [start, end) and that overlap [from, to). A nil rule yields the single
// occurrence. endCap, when set, is an inclusive bound on occurrence starts in
// addition to the rule's own UNTIL.
func Expand(rule *Rule, start, end time.Time, endCap *time.Time, from, to time.Time) ([]Occurrence, error) {
	return Expander{}.Expand(rule, start, end, endCap, from, to)
}

func (e Expander) Expand(rule *Rule, start, end time.Time, endCap *time.Time, from, to time.Time) ([]Occurrence, error) {
	if !from.Before(to) {
		return nil, nil
	}
	duration := end.Sub(start)

	if rule == nil {
		if endCap != nil && start.After(*endCap) {
			return nil, nil
		}
		if overlaps(start, end, from, to) {
			return []Occurrence{{OriginalStart: start, Start: start, End: end}}, nil
		}
		return nil, nil
	}

	it := newIterator(*rule, start)
	it.skipTo(from.Add(-duration))

	limit := e.limit()
	var results []Occurrence
	generated := 0
	for {
		occStart, ok := it.next()
		if !ok {
			break
		}

		// Stop conditions
		if rule.Until != nil && occStart.After(*rule.Until) {
			break
		}
		if endCap != nil && occStart.After(*endCap) {
			break
		}
		if !occStart.Before(to) {
			break
		}

		generated++
		if generated > limit {
			return nil, fmt.Errorf("%w: more than %d occurrences between %s and %s",
				ErrExpansionLimit, limit, from.Format(time.RFC3339), to.Format(time.RFC3339))
		}

		occEnd := occStart.Add(duration)
		if overlaps(occStart, occEnd, from, to) {
			results = append(results, Occurrence{OriginalStart: occStart, Start: occStart, End: occEnd})
		}
	}

	return results, nil
}

// Contains reports whether the series generates an occurrence starting exactly at t.
func Contains(rule *Rule, start, end time.Time, endCap *time.Time, t time.Time) (bool, error) {
	return Expander{}.Contains(rule, start, end, endCap, t)
}

func (e Expander) Contains(rule *Rule, start, end time.Time, endCap *time.Time, t time.Time) (bool, error) {
	if rule == nil {
		return t.Equal(start) && (endCap == nil || !start.After(*endCap)), nil
	}
	occs, err := e.Expand(rule, start, start, endCap, t, t.Add(time.Nanosecond))
	if err != nil {
		return false, err
	}
	for _, o := range occs {
		if o.OriginalStart.Equal(t) {
			return true, nil
		}
	}
	return false, nil
}

// CountBefore returns how many occurrences of the rule start strictly before t.
func CountBefore(rule Rule, start time.Time, t time.Time) (int, error) {
	return Expander{}.CountBefore(rule, start, t)
}

func (e Expander) CountBefore(rule Rule, start time.Time, t time.Time) (int, error) {
	if rule.Until != nil && rule.Until.Before(t) {
		t = rule.Until.Add(time.Nanosecond)
	}
	it := newIterator(rule, start)
	it.skipTo(t)
	if rule.Count > 0 && it.emitted >= rule.Count {
		return rule.Count, nil
	}

	n := it.emitted
	limit := e.limit()
	generated := 0
	for {
		occStart, ok := it.next()
		if !ok || !occStart.Before(t) {
			return n, nil
		}
		n++
		generated++
		if generated > limit {
			return 0, fmt.Errorf("%w: more than %d occurrences before %s", ErrExpansionLimit, limit, t.Format(time.RFC3339))
		}
	}
}

func overlaps(start, end, from, to time.Time) bool {
	if !end.After(start) {
		return !start.Before(from) && start.Before(to)
	}
	return start.Before(to) && end.After(from)
}

// iterator walks a rule period by period (a day, week, month or year times
// the interval), yielding the candidates of each period in order. The anchor
// is always the first occurrence.
type iterator struct {
	rule    Rule
	anchor  time.Time
	days    []time.Weekday
	period  int
	pending []time.Time
	emitted int
	started bool
}

func newIterator(rule Rule, start time.Time) *iterator {
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	return &iterator{
		rule:   rule,
		anchor: start,
		days:   sortedWeekdays(rule.ByDay),
	}
}

func (it *iterator) next() (time.Time, bool) {
	if it.rule.Count > 0 && it.emitted >= it.rule.Count {
		return time.Time{}, false
	}
	if !it.started {
		it.started = true
		it.emitted++
		return it.anchor, true
	}

	empty := 0
	for len(it.pending) == 0 {
		if empty > maxEmptyPeriods {
			return time.Time{}, false
		}
		for _, c := range it.candidates(it.period) {
			if c.After(it.anchor) {
				it.pending = append(it.pending, c)
			}
		}
		it.period++
		empty++
	}

	t := it.pending[0]
	it.pending = it.pending[1:]
	it.emitted++
	return t, true
}

// skipTo fast-forwards past periods that end before target. The anchor is
// skipped along with them, and the skipped occurrences still count toward COUNT.
func (it *iterator) skipTo(target time.Time) {
	if !target.After(it.anchor) {
		return
	}
	p := it.unitsBetween(target)/it.rule.Interval - 1
	if p > 0 {
		it.emitted = it.countBefore(p)
		it.period = p
		it.started = true
	}
}

// countBefore returns how many occurrences periods [0, p) generate, the
// anchor included. Candidate counts repeat every cycle() periods, so whole
// cycles are counted once and multiplied.
func (it *iterator) countBefore(p int) int {
	n := 1
	for _, c := range it.candidates(0) {
		if c.After(it.anchor) {
			n++
		}
	}
	if p <= 1 {
		return n
	}

	cycle := it.cycle()
	full := (p - 1) / cycle
	if full > 0 {
		perCycle := 0
		for q := 1; q <= cycle; q++ {
			perCycle += len(it.candidates(q))
		}
		n += full * perCycle
	}
	for q := 1 + full*cycle; q < p; q++ {
		n += len(it.candidates(q))
	}
	return n
}

// cycle is a number of periods after which the calendar, and so the number of
// candidates per period, repeats. The Gregorian calendar repeats every 400
// years, which is also a whole number of weeks.
func (it *iterator) cycle() int {
	switch it.rule.Freq {
	case Daily:
		return 7
	case Monthly:
		return 4800
	case Yearly:
		return 400
	}
	return 1
}

func (it *iterator) unitsBetween(t time.Time) int {
	t = t.In(it.anchor.Location())
	switch it.rule.Freq {
	case Daily:
		return daysBetween(dayStart(it.anchor), dayStart(t))
	case Weekly:
		return daysBetween(weekStart(it.anchor), weekStart(t)) / 7
	case Monthly:
		return (t.Year()-it.anchor.Year())*12 + int(t.Month()) - int(it.anchor.Month())
	case Yearly:
		return t.Year() - it.anchor.Year()
	}
	return 0
}

func (it *iterator) candidates(p int) []time.Time {
	step := p * it.rule.Interval
	a := it.anchor

	switch it.rule.Freq {
	case Daily:
		day := a.AddDate(0, 0, step)
		if len(it.days) > 0 && !containsWeekday(it.days, day.Weekday()) {
			return nil
		}
		return []time.Time{day}

	case Weekly:
		if len(it.days) == 0 {
			return []time.Time{a.AddDate(0, 0, 7*step)}
		}
		monday := weekStart(a).AddDate(0, 0, 7*step)
		out := make([]time.Time, 0, len(it.days))
		for _, wd := range it.days {
			out = append(out, it.at(monday.Year(), monday.Month(), monday.Day()+mondayOffset(wd)))
		}
		return out

	case Monthly:
		first := time.Date(a.Year(), a.Month()+time.Month(step), 1, 0, 0, 0, 0, a.Location())
		return it.monthCandidates(first.Year(), first.Month())

	case Yearly:
		year := a.Year() + step
		if a.Day() > daysInMonth(year, a.Month()) {
			return nil
		}
		return []time.Time{it.at(year, a.Month(), a.Day())}
	}
	return nil
}

func (it *iterator) monthCandidates(year int, month time.Month) []time.Time {
	last := daysInMonth(year, month)
	var days []int

	switch {
	case len(it.rule.ByMonthDay) > 0:
		for _, md := range it.rule.ByMonthDay {
			if md < 0 {
				md = last + md + 1
			}
			if md >= 1 && md <= last {
				days = append(days, md)
			}
		}

	case len(it.rule.ByDay) > 0:
		for _, wd := range it.rule.ByDay {
			var matches []int
			for d := 1; d <= last; d++ {
				if time.Date(year, month, d, 0, 0, 0, 0, time.UTC).Weekday() == wd.Day {
					matches = append(matches, d)
				}
			}
			switch {
			case wd.N == 0:
				days = append(days, matches...)
			case wd.N > 0 && wd.N <= len(matches):
				days = append(days, matches[wd.N-1])
			case wd.N < 0 && -wd.N <= len(matches):
				days = append(days, matches[len(matches)+wd.N])
			}
		}

	default:
		if it.anchor.Day() <= last {
			days = append(days, it.anchor.Day())
		}
	}

	sort.Ints(days)
	out := make([]time.Time, 0, len(days))
	for i, d := range days {
		if i > 0 && days[i-1] == d {
			continue
		}
		out = append(out, it.at(year, month, d))
	}
	return out
}

// at builds a time on the given date at the anchor's clock time.
func (it *iterator) at(year int, month time.Month, day int) time.Time {
	a := it.anchor
	return time.Date(year, month, day, a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), a.Location())
}

func containsWeekday(days []time.Weekday, wd time.Weekday) bool {
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func weekStart(t time.Time) time.Time {
	monday := t.AddDate(0, 0, -mondayOffset(t.Weekday()))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
