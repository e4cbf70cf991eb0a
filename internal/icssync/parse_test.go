package icssync

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func utc(day, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
}

func uids(instances []Instance) []string {
	out := make([]string, len(instances))
	for i, in := range instances {
		out[i] = in.UID
	}
	return out
}

func TestParseSingleEvents(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:dentist@example.com",
		"SUMMARY:Dentist",
		"LOCATION:Main St",
		"DTSTART:20260305T150000Z",
		"DTEND:20260305T160000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:holiday@example.com",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20260306",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:old@example.com",
		"DTSTART:20250101T090000Z",
		"DTEND:20250101T100000Z",
		"END:VEVENT",
	)

	got, skipped, err := Parse(body, utc(1, 0), utc(31, 0))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, got, 2)

	assert.Equal(t, Instance{
		UID: "dentist@example.com", Title: "Dentist", Location: "Main St",
		Start: utc(5, 15), End: utc(5, 16),
	}, got[0])

	assert.Equal(t, "holiday@example.com", got[1].UID)
	assert.True(t, got[1].AllDay)
	assert.Equal(t, utc(6, 0), got[1].Start)
	assert.Equal(t, utc(7, 0), got[1].End)
}

func TestParseRecurringWithExdateAndOverride(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:standup",
		"SUMMARY:Standup",
		"DTSTART:20260302T090000Z",
		"DTEND:20260302T093000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20260303T090000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"SUMMARY:Standup (late)",
		"RECURRENCE-ID:20260304T090000Z",
		"DTSTART:20260304T110000Z",
		"DTEND:20260304T113000Z",
		"END:VEVENT",
	)

	got, _, err := Parse(body, utc(1, 0), utc(31, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"standup@20260302T090000Z",
		"standup@20260304T090000Z",
		"standup@20260305T090000Z",
		"standup@20260306T090000Z",
	}, uids(got))

	moved := got[1]
	assert.Equal(t, "Standup (late)", moved.Title)
	assert.Equal(t, utc(4, 11), moved.Start)
	assert.Equal(t, utc(4, 11).Add(30*time.Minute), moved.End)
}

func TestParseClipsInfiniteRulesToWindow(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:gym",
		"DTSTART:20200106T180000Z",
		"DTEND:20200106T190000Z",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
	)

	got, _, err := Parse(body, utc(1, 0), utc(15, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"gym@20260302T180000Z", "gym@20260309T180000Z"}, uids(got))
}

func TestParseSkipsMalformedEvents(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"SUMMARY:No UID",
		"DTSTART:20260305T150000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:backwards",
		"DTSTART:20260305T150000Z",
		"DTEND:20260305T140000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:bad-rule",
		"DTSTART:20260305T150000Z",
		"DTEND:20260305T160000Z",
		"RRULE:FREQ=SOMETIMES",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:fine",
		"DTSTART:20260305T150000Z",
		"DTEND:20260305T160000Z",
		"END:VEVENT",
	)

	got, skipped, err := Parse(body, utc(1, 0), utc(31, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, []string{"fine"}, uids(got))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, _, err := Parse(nil, utc(1, 0), utc(31, 0))
	assert.ErrorIs(t, err, errEmptyFeed)

	_, _, err = Parse([]byte("<html>not a calendar</html>"), utc(1, 0), utc(31, 0))
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		value, zone string
		want        time.Time
		allDay      bool
	}{
		{"20260305T150000Z", "", utc(5, 15), false},
		{"20260305T100000", "America/New_York", time.Date(2026, 3, 5, 10, 0, 0, 0, ny), false},
		{"20260305T100000", "Not/AZone", utc(5, 10), false},
		{"20260305", "", utc(5, 0), true},
	}
	for _, tt := range tests {
		got, allDay, err := parseTime(tt.value, tt.zone)
		require.NoError(t, err, tt.value)
		assert.True(t, tt.want.Equal(got), "%s: got %v, want %v", tt.value, got, tt.want)
		assert.Equal(t, tt.allDay, allDay, tt.value)
	}
}
