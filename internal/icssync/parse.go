package icssync

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/dukerupert/homebase/internal/model"
)

// maxInstances caps the instances taken from one remote recurring event.
const maxInstances = 5000

const instanceLayout = "20060102T150405Z"

var errEmptyFeed = errors.New("empty feed")

// Instance is one concrete event instance read from a remote feed. UID is
// unique within the feed: the VEVENT UID for single events, UID@start for
// instances of recurring ones.
type Instance struct {
	UID      string
	Title    string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

type vevent struct {
	uid        string
	title      string
	location   string
	start      time.Time
	end        time.Time
	allDay     bool
	rrule      string
	exdates    []time.Time
	recurrence *time.Time
}

// Parse reads an ICS document and returns the instances overlapping
// [from, to), expanding RRULE and EXDATE and applying RECURRENCE-ID
// overrides. Malformed VEVENTs are skipped and counted in skipped.
func Parse(body []byte, from, to time.Time) (instances []Instance, skipped int, err error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, errEmptyFeed
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("parse calendar: %w", err)
	}

	var bases []vevent
	overrides := make(map[string]map[int64]vevent)
	for _, comp := range cal.Events() {
		ev, err := readVEvent(comp)
		if err != nil {
			skipped++
			continue
		}
		if ev.recurrence != nil {
			if overrides[ev.uid] == nil {
				overrides[ev.uid] = make(map[int64]vevent)
			}
			overrides[ev.uid][ev.recurrence.Unix()] = ev
			continue
		}
		bases = append(bases, ev)
	}

	seen := make(map[string]bool)
	add := func(in Instance) {
		if seen[in.UID] || !overlaps(in.Start, in.End, from, to) {
			return
		}
		seen[in.UID] = true
		instances = append(instances, in)
	}

	for _, ev := range bases {
		if ev.rrule == "" {
			add(ev.instance(ev.uid))
			continue
		}
		starts, err := expandRule(ev, from, to)
		if err != nil {
			skipped++
			continue
		}
		duration := ev.end.Sub(ev.start)
		for _, start := range starts {
			key := ev.uid + "@" + start.UTC().Format(instanceLayout)
			if o, ok := overrides[ev.uid][start.Unix()]; ok {
				add(o.instance(key))
				continue
			}
			in := ev.instance(key)
			in.Start, in.End = start.UTC(), start.Add(duration).UTC()
			add(in)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].Start.Equal(instances[j].Start) {
			return instances[i].Start.Before(instances[j].Start)
		}
		return instances[i].UID < instances[j].UID
	})
	return instances, skipped, nil
}

func expandRule(ev vevent, from, to time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(strings.TrimPrefix(ev.rrule, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", ev.rrule, err)
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	starts := set.Between(from.Add(-ev.end.Sub(ev.start)).In(ev.start.Location()), to.In(ev.start.Location()), true)
	if len(starts) > maxInstances {
		starts = starts[:maxInstances]
	}
	return starts, nil
}

func (ev vevent) instance(uid string) Instance {
	return Instance{
		UID:      uid,
		Title:    ev.title,
		Location: ev.location,
		Start:    ev.start.UTC(),
		End:      ev.end.UTC(),
		AllDay:   ev.allDay,
	}
}

func readVEvent(ve *ical.VEvent) (vevent, error) {
	var ev vevent
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.location = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	start, allDay, err := propertyTime(dtstart)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.start, ev.allDay = start, allDay

	switch dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtend != nil:
		end, _, err := propertyTime(dtend)
		if err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
		ev.end = end
	case allDay:
		ev.end = start.AddDate(0, 0, 1)
	default:
		ev.end = start
	}
	if ev.end.Before(ev.start) {
		return ev, errors.New("DTEND before DTSTART")
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, _, err := parseTime(strings.TrimSpace(part), tzid(p.ICalParameters))
			if err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, _, err := propertyTime(p)
		if err != nil {
			return ev, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		ev.recurrence = &t
	}
	return ev, nil
}

func propertyTime(p *ical.IANAProperty) (time.Time, bool, error) {
	return parseTime(strings.TrimSpace(p.Value), tzid(p.ICalParameters))
}

func tzid(params map[string][]string) string {
	if v := params[string(ical.ParameterTzid)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseTime reads DATE, floating DATE-TIME and UTC DATE-TIME values. Floating
// times use the TZID when it names a known zone, UTC otherwise. All-day dates
// are midnight UTC.
func parseTime(v, zone string) (time.Time, bool, error) {
	loc := time.UTC
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		return t, true, err
	}
}

func overlaps(start, end, from, to time.Time) bool {
	if !end.After(start) {
		return !start.Before(from) && start.Before(to)
	}
	return start.Before(to) && end.After(from)
}

func (in Instance) event(subscriptionID int64) *model.ExternalEvent {
	return &model.ExternalEvent{
		SubscriptionID: subscriptionID,
		ExternalUID:    in.UID,
		Title:          in.Title,
		Location:       in.Location,
		StartTime:      in.Start,
		EndTime:        in.End,
		AllDay:         in.AllDay,
	}
}
