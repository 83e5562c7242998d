package reconcile

import (
	"fmt"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

// Reason tells why an event ended up in [Result.Deleted].
type Reason string

const (
	// ReasonRemoved means the feed no longer publishes the event.
	ReasonRemoved Reason = "removed"
	// ReasonRoomInactive means the feed still publishes the event, but in a
	// room the source does not import.
	ReasonRoomInactive Reason = "room-inactive"
)

// Deletion is an event whose shift will be removed.
type Deletion struct {
	Event  model.Event
	Reason Reason
}

// Result is the outcome of [Diff]. Maps are keyed by event GUID; consumers
// must not rely on any iteration order.
type Result struct {
	Added    map[string]model.Event
	Changed  map[string]model.Event
	Deleted  map[string]Deletion
	NewRooms []model.Room
}

// IsEmpty reports whether applying the result would change nothing.
func (r *Result) IsEmpty() bool {
	return len(r.Added) == 0 && len(r.Changed) == 0 && len(r.Deleted) == 0 && len(r.NewRooms) == 0
}

// String returns a short summary for log lines.
func (r *Result) String() string {
	return fmt.Sprintf("rooms+%d shifts+%d ~%d -%d", len(r.NewRooms), len(r.Added), len(r.Changed), len(r.Deleted))
}

// Diff compares a schedule snapshot with the shifts already linked to src.
//
// Only events in the source's active rooms are considered. They are
// normalized first (see [Normalize]) and then matched against linked by GUID:
// unmatched events are Added, matched events whose stored shift differs in
// title, shift type, start, end, location or URL are Changed, and linked
// GUIDs missing from the active event set are Deleted. NewRooms lists every
// snapshot room, active or not, with no location of the same name.
//
// A nil tz is treated as UTC.
func Diff(s *model.Schedule, src *model.Source, linked []model.LinkedShift, locations []model.Location, tz *time.Location) *Result {
	if tz == nil {
		tz = time.UTC
	}

	res := &Result{
		Added:   make(map[string]model.Event),
		Changed: make(map[string]model.Event),
		Deleted: make(map[string]Deletion),
	}

	locByName := make(map[string]model.Location, len(locations))
	for _, l := range locations {
		locByName[l.Name] = l
	}

	for _, room := range s.Rooms() {
		if _, ok := locByName[room.Name]; !ok {
			res.NewRooms = append(res.NewRooms, room)
		}
	}

	// Active-room events, normalized, and the GUIDs published in other rooms.
	incoming := make(map[string]model.Event)
	inactive := make(map[string]bool)
	for _, ev := range s.Events() {
		if !src.IsRoomActive(ev.Room.Name) {
			inactive[ev.GUID] = true
			continue
		}
		incoming[ev.GUID] = Normalize(ev, src, tz)
	}

	for _, ls := range linked {
		ev, ok := incoming[ls.GUID]
		if !ok {
			reason := ReasonRemoved
			if inactive[ls.GUID] {
				reason = ReasonRoomInactive
			}
			res.Deleted[ls.GUID] = Deletion{Event: eventFromShift(ls), Reason: reason}
			continue
		}

		var locationID int64
		if l, ok := locByName[ev.Room.Name]; ok {
			locationID = l.ID
		}
		if shiftDiffers(ls.Shift, ev, src.ShiftTypeID, locationID) {
			res.Changed[ls.GUID] = ev
		}
		delete(incoming, ls.GUID)
	}

	for guid, ev := range incoming {
		res.Added[guid] = ev
	}

	return res
}

// Normalize converts an event into the form it is stored in: the start moves
// earlier by the source's lead buffer and the end later by its trail buffer,
// both expressed in tz, and a language tag is appended to the title as
// "<title> [<language>]". Normalizing twice is not idempotent.
func Normalize(ev model.Event, src *model.Source, tz *time.Location) model.Event {
	start := ev.Start.In(tz).Add(-src.Lead())
	end := ev.End().In(tz).Add(src.Trail())

	out := ev
	out.Start = start
	out.Duration = end.Sub(start)
	if ev.Language != "" {
		out.Title = fmt.Sprintf("%s [%s]", ev.Title, ev.Language)
	}
	return out
}

func shiftDiffers(sh model.Shift, ev model.Event, shiftTypeID, locationID int64) bool {
	return sh.Title != ev.Title ||
		sh.ShiftTypeID != shiftTypeID ||
		!sh.Start.Equal(ev.Start) ||
		!sh.End.Equal(ev.End()) ||
		sh.LocationID != locationID ||
		sh.URL != ev.URL
}

// eventFromShift rebuilds an event from a stored shift so deletions can be
// shown and logged like any other event.
func eventFromShift(ls model.LinkedShift) model.Event {
	return model.Event{
		GUID:     ls.GUID,
		Room:     model.Room{Name: ls.LocationName},
		Title:    ls.Shift.Title,
		URL:      ls.Shift.URL,
		Start:    ls.Shift.Start,
		Duration: ls.Shift.End.Sub(ls.Shift.Start),
	}
}
