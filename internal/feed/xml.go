package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

// XMLParser reads the Frab schedule XML format:
//
//	<schedule>
//	  <version>…</version>
//	  <conference><title/><acronym/><start/><end/><base_url/></conference>
//	  <day index="1" date="2026-08-20" start="…" end="…">
//	    <room name="Main Hall">
//	      <event guid="…" id="1">
//	        <date>2026-08-20T10:00:00+02:00</date><duration>01:00</duration>
//	        <title/><subtitle/><type/><language/><slug/><url/><abstract/>
//	        <persons><person id="1">…</person></persons>
//	      </event>
//	    </room>
//	  </day>
//	</schedule>
//
// Timestamps without an offset, and the day date combined with <start>, are
// read in Location.
type XMLParser struct {
	// Location is the zone of offset-less times. Nil means UTC.
	Location *time.Location
}

type xmlSchedule struct {
	XMLName    xml.Name      `xml:"schedule"`
	Version    string        `xml:"version"`
	Conference xmlConference `xml:"conference"`
	Days       []xmlDay      `xml:"day"`
}

type xmlConference struct {
	Title   string `xml:"title"`
	Acronym string `xml:"acronym"`
	Start   string `xml:"start"`
	End     string `xml:"end"`
	BaseURL string `xml:"base_url"`
}

type xmlDay struct {
	Index int       `xml:"index,attr"`
	Date  string    `xml:"date,attr"`
	Start string    `xml:"start,attr"`
	End   string    `xml:"end,attr"`
	Rooms []xmlRoom `xml:"room"`
}

type xmlRoom struct {
	Name   string     `xml:"name,attr"`
	Events []xmlEvent `xml:"event"`
}

type xmlEvent struct {
	GUID     string   `xml:"guid,attr"`
	ID       int      `xml:"id,attr"`
	Date     string   `xml:"date"`
	Start    string   `xml:"start"`
	Duration string   `xml:"duration"`
	Slug     string   `xml:"slug"`
	URL      string   `xml:"url"`
	Title    string   `xml:"title"`
	Subtitle string   `xml:"subtitle"`
	Type     string   `xml:"type"`
	Language string   `xml:"language"`
	Abstract string   `xml:"abstract"`
	Persons  []string `xml:"persons>person"`
}

// Parse implements [Parser].
func (p XMLParser) Parse(data []byte) (*model.Schedule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, readError("empty schedule")
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	var doc xmlSchedule
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, readError("decoding xml: %v", err)
	}

	s := &model.Schedule{
		Version: strings.TrimSpace(doc.Version),
		Conference: model.Conference{
			Title:   strings.TrimSpace(doc.Conference.Title),
			Acronym: strings.TrimSpace(doc.Conference.Acronym),
			BaseURL: strings.TrimSpace(doc.Conference.BaseURL),
		},
	}
	s.Conference.Start, _ = parseFlexibleTime(doc.Conference.Start, loc)
	s.Conference.End, _ = parseFlexibleTime(doc.Conference.End, loc)

	for _, d := range doc.Days {
		day := model.Day{Index: d.Index}
		day.Date, _ = parseFlexibleTime(d.Date, loc)
		day.Start, _ = parseFlexibleTime(d.Start, loc)
		day.End, _ = parseFlexibleTime(d.End, loc)

		for _, r := range d.Rooms {
			room := model.Room{Name: strings.TrimSpace(r.Name)}
			dr := model.DayRoom{Room: room}
			for _, e := range r.Events {
				ev, err := convertXMLEvent(e, room, day, loc)
				if err != nil {
					return nil, err
				}
				dr.Events = append(dr.Events, ev)
			}
			day.Rooms = append(day.Rooms, dr)
		}
		s.Days = append(s.Days, day)
	}

	if err := s.Validate(); err != nil {
		return nil, readError("%v", err)
	}
	return s, nil
}

func convertXMLEvent(e xmlEvent, room model.Room, day model.Day, loc *time.Location) (model.Event, error) {
	ev := model.Event{
		GUID:     strings.TrimSpace(e.GUID),
		ID:       e.ID,
		Room:     room,
		Title:    strings.TrimSpace(e.Title),
		Subtitle: strings.TrimSpace(e.Subtitle),
		Type:     strings.TrimSpace(e.Type),
		Language: strings.TrimSpace(e.Language),
		Slug:     strings.TrimSpace(e.Slug),
		URL:      strings.TrimSpace(e.URL),
		Abstract: strings.TrimSpace(e.Abstract),
	}
	for _, p := range e.Persons {
		if p = strings.TrimSpace(p); p != "" {
			ev.Persons = append(ev.Persons, p)
		}
	}

	start, err := eventStart(e, day, loc)
	if err != nil {
		return ev, readError("event %q: %v", ev.GUID, err)
	}
	ev.Start = start

	if ev.Duration, err = parseDuration(e.Duration); err != nil {
		return ev, readError("event %q: %v", ev.GUID, err)
	}
	return ev, nil
}

// eventStart prefers the full <date> timestamp and falls back to the day's
// date combined with the <start> wall clock time in loc.
func eventStart(e xmlEvent, day model.Day, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(e.Date) != "" {
		return parseFlexibleTime(e.Date, loc)
	}
	if day.Date.IsZero() || strings.TrimSpace(e.Start) == "" {
		return time.Time{}, errMissingStart
	}
	clock, err := time.Parse("15:04", strings.TrimSpace(e.Start))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Date.Year(), day.Date.Month(), day.Date.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

var errMissingStart = errors.New("no start time")

// parseDuration accepts HH:MM and HH:MM:SS.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad duration %q", v)
	}

	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad duration %q", v)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseFlexibleTime parses the timestamp and date forms found in schedule
// feeds. Values without an offset are read in loc.
func parseFlexibleTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", v)
}
