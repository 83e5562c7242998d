package feed

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/poelzi/engelsystem/internal/model"
)

const (
	// DefaultMaxOccurrences caps the expansion of a single recurring event.
	DefaultMaxOccurrences = 500

	// NoRoom is the room assigned to events without a LOCATION.
	NoRoom = "Unassigned"
)

// ICSParser reads an iCalendar feed. Every VEVENT becomes one event; events
// with an RRULE are expanded into one event per occurrence, with the GUID
// "<UID>/<occurrence start in UTC, basic format>". LOCATION is the room,
// DESCRIPTION the abstract, CATEGORIES the type. Events are grouped into days
// by their start date in Location.
type ICSParser struct {
	// Location is used for floating times and day grouping. Nil means UTC.
	Location *time.Location

	// MaxOccurrences caps recurrence expansion per event. Zero means
	// DefaultMaxOccurrences.
	MaxOccurrences int
}

type icsEvent struct {
	uid        string
	summary    string
	location   string
	desc       string
	url        string
	categories string
	start      time.Time
	end        time.Time
	rrule      string
	exdates    []time.Time
	recurrence *time.Time
}

// Parse implements [Parser].
func (p ICSParser) Parse(data []byte) (*model.Schedule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, readError("empty calendar")
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	limit := p.MaxOccurrences
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, readError("decoding calendar: %v", err)
	}

	var base []icsEvent
	overrides := make(map[string][]icsEvent)
	for _, ve := range cal.Events() {
		ev, err := readVEvent(ve, loc)
		if err != nil {
			return nil, err
		}
		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
			continue
		}
		base = append(base, ev)
	}

	var events []model.Event
	for _, ev := range base {
		occ, err := expand(ev, overrides[ev.uid], limit)
		if err != nil {
			return nil, err
		}
		events = append(events, occ...)
	}

	s := buildSchedule(calendarName(cal), events, loc)
	if err := s.Validate(); err != nil {
		return nil, readError("%v", err)
	}
	return s, nil
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (icsEvent, error) {
	var ev icsEvent

	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return ev, readError("event without UID")
	}
	ev.uid = strings.TrimSpace(p.Value)

	ev.summary = propValue(ve, ical.ComponentPropertySummary)
	ev.location = propValue(ve, ical.ComponentPropertyLocation)
	ev.desc = propValue(ve, ical.ComponentPropertyDescription)
	ev.url = propValue(ve, ical.ComponentProperty("URL"))
	ev.categories = propValue(ve, ical.ComponentProperty("CATEGORIES"))
	ev.rrule = propValue(ve, ical.ComponentPropertyRrule)

	start, ok := floatingTime(ve.GetProperty(ical.ComponentPropertyDtStart), loc)
	if !ok {
		var err error
		if start, err = ve.GetStartAt(); err != nil {
			return ev, readError("event %q: start: %v", ev.uid, err)
		}
	}
	ev.start = start

	end, ok := floatingTime(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
	if !ok {
		var err error
		if end, err = ve.GetEndAt(); err != nil {
			end = start
		}
	}
	if end.Before(start) {
		end = start
	}
	ev.end = end

	for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(ex.Value, ",") {
			if t, err := parseICSTime(part, tzOf(ex.ICalParameters, loc)); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		t, err := parseICSTime(rid.Value, tzOf(rid.ICalParameters, loc))
		if err != nil {
			return ev, readError("event %q: recurrence id: %v", ev.uid, err)
		}
		ev.recurrence = &t
	}
	return ev, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func tzOf(params map[string][]string, fallback *time.Location) *time.Location {
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			return l
		}
	}
	return fallback
}

// floatingTime reads a DATE or DATE-TIME property that carries neither a
// TZID nor a UTC suffix in loc. ok is false for every other value, which the
// calendar library resolves itself.
func floatingTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	if _, ok := p.ICalParameters["TZID"]; ok {
		return time.Time{}, false
	}
	v := strings.TrimSpace(p.Value)
	if strings.HasSuffix(v, "Z") {
		return time.Time{}, false
	}
	t, err := parseICSTime(v, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseICSTime parses DATE and DATE-TIME values (UTC or local to loc).
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// expand turns one VEVENT into its occurrences. Overrides replace the
// occurrence whose start equals their RECURRENCE-ID.
func expand(ev icsEvent, overrides []icsEvent, limit int) ([]model.Event, error) {
	if ev.rrule == "" {
		return []model.Event{ev.toModel(ev.uid, ev.start, ev.end)}, nil
	}

	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return nil, readError("event %q: rrule: %v", ev.uid, err)
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	duration := ev.end.Sub(ev.start)
	next := set.Iterator()
	var out []model.Event
	for len(out) < limit {
		occStart, ok := next()
		if !ok {
			break
		}
		guid := ev.uid + "/" + occStart.UTC().Format("20060102T150405Z")

		src, start, end := ev, occStart, occStart.Add(duration)
		for _, o := range overrides {
			if o.recurrence.Equal(occStart) {
				src, start, end = o, o.start, o.end
				break
			}
		}
		out = append(out, src.toModel(guid, start, end))
	}
	return out, nil
}

func (ev icsEvent) toModel(guid string, start, end time.Time) model.Event {
	room := ev.location
	if room == "" {
		room = NoRoom
	}
	return model.Event{
		GUID:     guid,
		Room:     model.Room{Name: room},
		Title:    ev.summary,
		Type:     ev.categories,
		URL:      ev.url,
		Abstract: ev.desc,
		Start:    start,
		Duration: end.Sub(start),
	}
}

func calendarName(cal *ical.Calendar) string {
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-CALNAME") {
			return strings.TrimSpace(p.Value)
		}
	}
	return ""
}

// buildSchedule arranges events into days by start date in loc, and into
// rooms in first-seen order within each day.
func buildSchedule(title string, events []model.Event, loc *time.Location) *model.Schedule {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].GUID < events[j].GUID
	})

	s := &model.Schedule{Conference: model.Conference{Title: title}}
	dayIdx := make(map[string]int)
	roomIdx := make(map[string]int)

	for i := range events {
		events[i].ID = i + 1
		ev := events[i]

		local := ev.Start.In(loc)
		key := local.Format("2006-01-02")
		di, ok := dayIdx[key]
		if !ok {
			di = len(s.Days)
			dayIdx[key] = di
			date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
			s.Days = append(s.Days, model.Day{Index: di + 1, Date: date, Start: ev.Start, End: ev.End()})
		}
		day := &s.Days[di]
		if ev.End().After(day.End) {
			day.End = ev.End()
		}

		rk := key + "\x00" + ev.Room.Name
		ri, ok := roomIdx[rk]
		if !ok {
			ri = len(day.Rooms)
			roomIdx[rk] = ri
			day.Rooms = append(day.Rooms, model.DayRoom{Room: ev.Room})
		}
		day.Rooms[ri].Events = append(day.Rooms[ri].Events, ev)
	}

	if n := len(s.Days); n > 0 {
		s.Conference.Start = s.Days[0].Date
		s.Conference.End = s.Days[n-1].Date
	}
	return s
}
