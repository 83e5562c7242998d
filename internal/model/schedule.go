// Package model defines the types shared by the feed parsers, the reconcile
// engine and the state store: the in-memory schedule snapshot on one side,
// and the persisted locations, shifts, linkages and sources on the other.
package model

import (
	"fmt"
	"time"
)

// Schedule is one complete snapshot of a published conference schedule. It is
// produced fresh by a parser for every import attempt and never persisted.
type Schedule struct {
	Version    string
	Conference Conference
	Days       []Day
}

// Conference holds the descriptive header of a schedule feed.
type Conference struct {
	Title   string
	Acronym string
	Start   time.Time
	End     time.Time
	BaseURL string
}

// Day is one day of the timetable. Rooms lists the rooms that have events on
// that day, each with its own events.
type Day struct {
	Index int
	Date  time.Time
	Start time.Time
	End   time.Time
	Rooms []DayRoom
}

// DayRoom is a room as it appears inside a single day, together with the
// events scheduled in it on that day.
type DayRoom struct {
	Room   Room
	Events []Event
}

// Room is identified by its name only. Names are matched verbatim against
// persisted [Location] names.
type Room struct {
	Name string
}

// Event is a single timetabled entry of the feed.
type Event struct {
	// GUID is the feed's stable identifier for the event. It is the join key
	// between imports of the same source.
	GUID string

	ID       int
	Room     Room
	Title    string
	Subtitle string
	Type     string
	Language string
	Slug     string
	URL      string
	Abstract string
	Persons  []string

	Start    time.Time
	Duration time.Duration
}

// End returns the end of the event (start plus duration).
func (e Event) End() time.Time {
	return e.Start.Add(e.Duration)
}

// Rooms returns every distinct room of the schedule in first-seen order.
func (s *Schedule) Rooms() []Room {
	seen := make(map[string]bool)
	var rooms []Room
	for _, day := range s.Days {
		for _, dr := range day.Rooms {
			if seen[dr.Room.Name] {
				continue
			}
			seen[dr.Room.Name] = true
			rooms = append(rooms, dr.Room)
		}
	}
	return rooms
}

// Events returns all events of the schedule, day by day and room by room.
func (s *Schedule) Events() []Event {
	var events []Event
	for _, day := range s.Days {
		for _, dr := range day.Rooms {
			events = append(events, dr.Events...)
		}
	}
	return events
}

// Validate checks the structural invariants the reconcile engine relies on:
// every event has a GUID and no GUID occurs twice.
func (s *Schedule) Validate() error {
	seen := make(map[string]bool)
	for _, ev := range s.Events() {
		if ev.GUID == "" {
			return fmt.Errorf("event %q in room %q has no guid", ev.Title, ev.Room.Name)
		}
		if seen[ev.GUID] {
			return fmt.Errorf("duplicate event guid %q", ev.GUID)
		}
		seen[ev.GUID] = true
	}
	return nil
}
