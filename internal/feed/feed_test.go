package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poelzi/engelsystem/internal/model"
)

const frabSchedule = `<?xml version="1.0" encoding="utf-8"?>
<schedule>
  <version>1.2</version>
  <conference>
    <title>Camp 2026</title>
    <acronym>camp26</acronym>
    <start>2026-08-20</start>
    <end>2026-08-21</end>
    <base_url>https://camp.example.org/</base_url>
  </conference>
  <day index="1" date="2026-08-20" start="2026-08-20T09:00:00+02:00" end="2026-08-21T03:00:00+02:00">
    <room name="Main Hall">
      <event guid="a1" id="101">
        <date>2026-08-20T10:00:00+02:00</date>
        <start>10:00</start>
        <duration>01:00</duration>
        <slug>camp26-101-opening</slug>
        <url>https://camp.example.org/talk/101</url>
        <title>Opening</title>
        <subtitle></subtitle>
        <type>Talk</type>
        <language>en</language>
        <abstract>Welcome!</abstract>
        <persons><person id="1">Alice</person><person id="2">Bob</person></persons>
      </event>
    </room>
    <room name="Workshop Tent">
      <event guid="b1" id="102">
        <start>14:30</start>
        <duration>00:45:30</duration>
        <title>Soldering</title>
      </event>
    </room>
  </day>
  <day index="2" date="2026-08-21" start="2026-08-21T09:00:00+02:00" end="2026-08-22T03:00:00+02:00">
    <room name="Main Hall">
      <event guid="a2" id="103">
        <date>2026-08-21T18:00:00+02:00</date>
        <duration>00:30</duration>
        <title>Closing</title>
      </event>
    </room>
  </day>
</schedule>`

// ---------------------------------------------------------------------------
// XML
// ---------------------------------------------------------------------------

func TestXMLParser_Parse(t *testing.T) {
	s, err := XMLParser{}.Parse([]byte(frabSchedule))
	require.NoError(t, err)

	assert.Equal(t, "1.2", s.Version)
	assert.Equal(t, "Camp 2026", s.Conference.Title)
	assert.Equal(t, "camp26", s.Conference.Acronym)
	assert.Equal(t, "https://camp.example.org/", s.Conference.BaseURL)
	require.Len(t, s.Days, 2)
	assert.Equal(t, 1, s.Days[0].Index)

	rooms := s.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "Main Hall", rooms[0].Name)
	assert.Equal(t, "Workshop Tent", rooms[1].Name)

	events := s.Events()
	require.Len(t, events, 3)

	opening := events[0]
	assert.Equal(t, "a1", opening.GUID)
	assert.Equal(t, 101, opening.ID)
	assert.Equal(t, "Main Hall", opening.Room.Name)
	assert.Equal(t, "en", opening.Language)
	assert.Equal(t, "Talk", opening.Type)
	assert.Equal(t, []string{"Alice", "Bob"}, opening.Persons)
	assert.True(t, opening.Start.Equal(time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, opening.Duration)
}

func TestXMLParser_StartFallsBackToDayDate(t *testing.T) {
	s, err := XMLParser{}.Parse([]byte(frabSchedule))
	require.NoError(t, err)

	soldering := s.Events()[1]
	assert.Equal(t, "b1", soldering.GUID)
	assert.True(t, soldering.Start.Equal(time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)), "start = %v", soldering.Start)
	assert.Equal(t, 45*time.Minute+30*time.Second, soldering.Duration)
}

func TestXMLParser_OffsetlessTimesUseLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	body := `<schedule><day index="1" date="2026-08-20"><room name="Main Hall">
		<event guid="fallback"><start>10:00</start><duration>01:00</duration></event>
		<event guid="local"><date>2026-08-20T14:00:00</date><duration>00:30</duration></event>
		<event guid="offset"><date>2026-08-20T18:00:00+00:00</date><duration>00:30</duration></event>
	</room></day></schedule>`

	p, err := ForFormat(model.FormatXML, berlin)
	require.NoError(t, err)
	s, err := p.Parse([]byte(body))
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 3)
	assert.True(t, events[0].Start.Equal(time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)), "fallback start = %v", events[0].Start)
	assert.True(t, events[1].Start.Equal(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)), "local start = %v", events[1].Start)
	assert.True(t, events[2].Start.Equal(time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)), "offset start = %v", events[2].Start)
}

func TestXMLParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "   "},
		{"not xml", "this is not a schedule"},
		{"wrong root", "<calendar/>"},
		{"missing guid", `<schedule><day date="2026-08-20"><room name="A"><event><date>2026-08-20T10:00:00Z</date></event></room></day></schedule>`},
		{"duplicate guid", `<schedule><day date="2026-08-20"><room name="A">
			<event guid="x"><date>2026-08-20T10:00:00Z</date></event>
			<event guid="x"><date>2026-08-20T11:00:00Z</date></event></room></day></schedule>`},
		{"bad duration", `<schedule><day date="2026-08-20"><room name="A"><event guid="x"><date>2026-08-20T10:00:00Z</date><duration>1h</duration></event></room></day></schedule>`},
		{"no start", `<schedule><day><room name="A"><event guid="x"><duration>01:00</duration></event></room></day></schedule>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := XMLParser{}.Parse([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRead), "error %v is not ErrRead", err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"":         0,
		"00:45":    45 * time.Minute,
		"01:30":    90 * time.Minute,
		"02:00:15": 2*time.Hour + 15*time.Second,
	}
	for in, want := range tests {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"1", "a:b", "-1:00", "1:2:3:4"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

// ---------------------------------------------------------------------------
// ICS
// ---------------------------------------------------------------------------

func icsBody(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN", "X-WR-CALNAME:Workshops"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

func TestICSParser_SingleEvents(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:talk-1@example.org",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T080000Z",
		"DTEND:20260820T090000Z",
		"SUMMARY:Opening",
		"LOCATION:Main Hall",
		"DESCRIPTION:Welcome",
		"CATEGORIES:Talk",
		"URL:https://example.org/talk/1",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:talk-2@example.org",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T100000Z",
		"DTEND:20260820T103000Z",
		"SUMMARY:No room",
		"END:VEVENT",
	)

	s, err := ICSParser{}.Parse(body)
	require.NoError(t, err)

	assert.Equal(t, "Workshops", s.Conference.Title)
	require.Len(t, s.Days, 1)

	events := s.Events()
	require.Len(t, events, 2)
	first := events[0]
	assert.Equal(t, "talk-1@example.org", first.GUID)
	assert.Equal(t, "Main Hall", first.Room.Name)
	assert.Equal(t, "Opening", first.Title)
	assert.Equal(t, "Welcome", first.Abstract)
	assert.Equal(t, "Talk", first.Type)
	assert.Equal(t, "https://example.org/talk/1", first.URL)
	assert.Equal(t, time.Hour, first.Duration)

	assert.Equal(t, NoRoom, events[1].Room.Name)
}

func TestICSParser_ExpandsRecurrence(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T070000Z",
		"DTEND:20260820T071500Z",
		"RRULE:FREQ=DAILY;COUNT=4",
		"EXDATE:20260821T070000Z",
		"SUMMARY:Standup",
		"LOCATION:Orga Tent",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20260801T000000Z",
		"RECURRENCE-ID:20260822T070000Z",
		"DTSTART:20260822T090000Z",
		"DTEND:20260822T091500Z",
		"SUMMARY:Late standup",
		"LOCATION:Orga Tent",
		"END:VEVENT",
	)

	s, err := ICSParser{}.Parse(body)
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "standup/20260820T070000Z", events[0].GUID)
	assert.Equal(t, "standup/20260822T070000Z", events[1].GUID)
	assert.Equal(t, "Late standup", events[1].Title)
	assert.True(t, events[1].Start.Equal(time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "standup/20260823T070000Z", events[2].GUID)
	assert.Equal(t, 15*time.Minute, events[2].Duration)
	assert.Len(t, s.Days, 3)
}

func TestICSParser_CapsOccurrences(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:forever",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T070000Z",
		"DTEND:20260820T080000Z",
		"RRULE:FREQ=DAILY",
		"SUMMARY:Forever",
		"END:VEVENT",
	)

	s, err := ICSParser{MaxOccurrences: 5}.Parse(body)
	require.NoError(t, err)
	assert.Len(t, s.Events(), 5)
}

func TestICSParser_GroupsDaysInLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 23:30 UTC on the 20th is already the 21st in Berlin.
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:late",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T233000Z",
		"DTEND:20260821T003000Z",
		"SUMMARY:Late night",
		"END:VEVENT",
	)

	s, err := ICSParser{Location: berlin}.Parse(body)
	require.NoError(t, err)
	require.Len(t, s.Days, 1)
	assert.Equal(t, 21, s.Days[0].Date.Day())
}

func TestICSParser_FloatingTimesUseLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:talk",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260820T090000",
		"DTEND:20260820T100000",
		"SUMMARY:Talk",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20260801T000000Z",
		"DTSTART:20260821T090000",
		"DTEND:20260821T091500",
		"RRULE:FREQ=DAILY;COUNT=2",
		"SUMMARY:Standup",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20260801T000000Z",
		"RECURRENCE-ID:20260822T090000",
		"DTSTART:20260822T110000",
		"DTEND:20260822T111500",
		"SUMMARY:Moved",
		"END:VEVENT",
	)

	s, err := ICSParser{Location: berlin}.Parse(body)
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 3)

	talk := events[0]
	assert.Equal(t, "talk", talk.GUID)
	assert.True(t, talk.Start.Equal(time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)), "talk start = %v", talk.Start)
	assert.Equal(t, time.Hour, talk.Duration)

	assert.Equal(t, "standup/20260821T070000Z", events[1].GUID)
	assert.Equal(t, "Standup", events[1].Title)

	moved := events[2]
	assert.Equal(t, "standup/20260822T070000Z", moved.GUID)
	assert.Equal(t, "Moved", moved.Title)
	assert.True(t, moved.Start.Equal(time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)), "moved start = %v", moved.Start)
	assert.Equal(t, 15*time.Minute, moved.Duration)
}

func TestICSParser_Errors(t *testing.T) {
	for name, body := range map[string][]byte{
		"empty": []byte(""),
		"no uid": icsBody(
			"BEGIN:VEVENT",
			"DTSTART:20260820T070000Z",
			"SUMMARY:Anonymous",
			"END:VEVENT",
		),
		"bad rrule": icsBody(
			"BEGIN:VEVENT",
			"UID:x",
			"DTSTART:20260820T070000Z",
			"RRULE:FREQ=SOMETIMES",
			"END:VEVENT",
		),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ICSParser{}.Parse(body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRead)
		})
	}
}

// ---------------------------------------------------------------------------
// ForFormat
// ---------------------------------------------------------------------------

func TestForFormat(t *testing.T) {
	p, err := ForFormat(model.FormatXML, nil)
	require.NoError(t, err)
	assert.IsType(t, XMLParser{}, p)

	p, err = ForFormat(model.FormatXML, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, XMLParser{Location: time.UTC}, p)

	p, err = ForFormat("", nil)
	require.NoError(t, err)
	assert.IsType(t, XMLParser{}, p)

	p, err = ForFormat(model.FormatICS, time.UTC)
	require.NoError(t, err)
	assert.IsType(t, ICSParser{}, p)

	_, err = ForFormat("json", nil)
	assert.Error(t, err)
}
