// Package icsfeed renders occurrences as an iCalendar (RFC 5545) document.
package icsfeed

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const (
	ProductID   = "-//homebase//Calendar Feed//EN"
	ContentType = "text/calendar; charset=utf-8"
	uidDomain   = "@homebase"
)

var uidNamespace = uuid.MustParse("6f1c9a52-3b8e-4d1a-9f47-2c5e8b0d7a13")

// Entry is one VEVENT in the feed.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// OccurrenceUID derives a stable UID from a series and the occurrence's
// original start, so clients update entries instead of duplicating them.
func OccurrenceUID(seriesID int64, originalStart time.Time) string {
	name := fmt.Sprintf("series/%d/%s", seriesID, originalStart.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + uidDomain
}

// ExternalUID derives a stable UID for an imported event.
func ExternalUID(subscriptionID int64, externalUID string) string {
	name := fmt.Sprintf("subscription/%d/%s", subscriptionID, externalUID)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + uidDomain
}

// Encode writes a VCALENDAR containing entries, ordered by start then UID.
// stamp is used as DTSTAMP on every entry.
func Encode(w io.Writer, name string, entries []Entry, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].UID < sorted[j].UID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	for _, e := range sorted {
		cal.Children = append(cal.Children, newEvent(e, stamp).Component)
	}
	if len(cal.Children) == 0 {
		return encodeEmpty(w, name)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func newEvent(e Entry, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, e.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetText(ical.PropSummary, e.Summary)
	if e.Description != "" {
		event.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		event.Props.SetText(ical.PropLocation, e.Location)
	}

	if e.AllDay {
		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetDate(e.Start.UTC())
		event.Props.Set(start)

		endDate := e.End.UTC()
		if !endDate.After(e.Start.UTC()) {
			endDate = e.Start.UTC().AddDate(0, 0, 1)
		}
		end := ical.NewProp(ical.PropDateTimeEnd)
		end.SetDate(endDate)
		event.Props.Set(end)
	} else {
		event.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
	}
	return event
}

// encodeEmpty writes a VCALENDAR with no components, which the ical encoder
// refuses to produce.
func encodeEmpty(w io.Writer, name string) error {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:" + ProductID, "CALSCALE:GREGORIAN"}
	if name != "" {
		lines = append(lines, "X-WR-CALNAME:"+escapeText(name))
	}
	lines = append(lines, "END:VCALENDAR", "")
	if _, err := io.WriteString(w, strings.Join(lines, "\r\n")); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

var textEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
