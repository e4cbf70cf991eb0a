package icsfeed

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccurrenceUIDIsDeterministic(t *testing.T) {
	start := time.Date(2026, 2, 3, 16, 0, 0, 0, time.UTC)

	a := OccurrenceUID(42, start)
	b := OccurrenceUID(42, start.In(time.FixedZone("EST", -5*3600)))
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@homebase"))

	assert.NotEqual(t, a, OccurrenceUID(43, start))
	assert.NotEqual(t, a, OccurrenceUID(42, start.Add(7*24*time.Hour)))
	assert.NotEqual(t, ExternalUID(1, "x"), ExternalUID(2, "x"))
}

func TestEncode(t *testing.T) {
	stamp := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		{
			UID:     "b@homebase",
			Summary: "Piano",
			Start:   time.Date(2026, 2, 5, 17, 0, 0, 0, time.UTC),
			End:     time.Date(2026, 2, 5, 18, 0, 0, 0, time.UTC),
		},
		{
			UID:      "a@homebase",
			Summary:  "Soccer",
			Location: "Field 3",
			Start:    time.Date(2026, 2, 4, 16, 0, 0, 0, time.UTC),
			End:      time.Date(2026, 2, 4, 17, 30, 0, 0, time.UTC),
		},
		{
			UID:     "c@homebase",
			Summary: "Grandma's birthday",
			Start:   time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC),
			End:     time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC),
			AllDay:  true,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "Family", entries, stamp))

	body := buf.String()
	assert.Contains(t, body, "PRODID:"+ProductID)
	assert.Contains(t, body, "X-WR-CALNAME:Family")
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20260206")

	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 3)

	uid, err := events[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "a@homebase", uid, "entries are ordered by start")

	start, err := events[0].DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Equal(entries[1].Start))

	loc, err := events[0].Props.Text(ical.PropLocation)
	require.NoError(t, err)
	assert.Equal(t, "Field 3", loc)
}

func TestEncodeIsStable(t *testing.T) {
	stamp := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	entries := []Entry{{
		UID:     OccurrenceUID(1, time.Date(2026, 2, 4, 16, 0, 0, 0, time.UTC)),
		Summary: "Soccer",
		Start:   time.Date(2026, 2, 4, 16, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 2, 4, 17, 0, 0, 0, time.UTC),
	}}

	var a, b bytes.Buffer
	require.NoError(t, Encode(&a, "Family", entries, stamp))
	require.NoError(t, Encode(&b, "Family", entries, stamp))
	assert.Equal(t, a.String(), b.String())
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "Kids, school", nil, time.Now()))

	body := buf.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, body, "X-WR-CALNAME:Kids\\, school\r\n")
	assert.True(t, strings.HasSuffix(body, "END:VCALENDAR\r\n"))
	assert.NotContains(t, body, "BEGIN:VEVENT")
}
