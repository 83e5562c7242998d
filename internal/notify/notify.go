// Package notify carries domain notifications emitted by the schedule
// importer to downstream consumers. Delivery is fire-and-forget: publishers
// never look at what a sink did with an event.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

// Event names.
const (
	NameShiftEntryDeleting = "shift.entry.deleting"
	NameShiftUpdating      = "shift.updating"
)

// Event is a domain notification.
type Event interface {
	Name() string
}

// ShiftEntryDeleting announces that a shift with a volunteer signed up is
// about to be removed. One event is emitted per sign-up.
type ShiftEntryDeleting struct {
	UserID     int64          `json:"user_id"`
	UserName   string         `json:"user_name"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	ShiftType  string         `json:"shift_type"`
	Title      string         `json:"title"`
	Role       string         `json:"role"`
	Location   model.Location `json:"location"`
	Freeloaded bool           `json:"freeloaded"`
}

// Name implements [Event].
func (ShiftEntryDeleting) Name() string { return NameShiftEntryDeleting }

// ShiftUpdating carries a shift before and after an import changed it.
type ShiftUpdating struct {
	Old model.Shift `json:"old"`
	New model.Shift `json:"new"`
}

// Name implements [Event].
func (ShiftUpdating) Name() string { return NameShiftUpdating }

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev Event)

// Publish implements [Sink].
func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Bus fans every event out to all subscribed sinks in subscription order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates a Bus with the given initial sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish implements [Sink].
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ctx, ev)
	}
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

// Publish implements [Sink].
func (l *LogSink) Publish(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ShiftEntryDeleting:
		l.log.InfoContext(ctx, "notify: shift entry deleting",
			"user", e.UserName,
			"title", e.Title,
			"shift_type", e.ShiftType,
			"role", e.Role,
			"location", e.Location.Name,
			"from", e.Start.Format(time.RFC3339),
			"to", e.End.Format(time.RFC3339),
			"freeloaded", e.Freeloaded,
		)
	case ShiftUpdating:
		l.log.InfoContext(ctx, "notify: shift updating",
			"shift_id", e.New.ID,
			"old_title", e.Old.Title,
			"new_title", e.New.Title,
			"old_from", e.Old.Start.Format(time.RFC3339),
			"new_from", e.New.Start.Format(time.RFC3339),
		)
	default:
		l.log.InfoContext(ctx, "notify", "event", ev.Name())
	}
}
