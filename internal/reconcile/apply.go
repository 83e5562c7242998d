package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
	"github.com/poelzi/engelsystem/internal/notify"
)

// Stats tracks the mutations performed by a single apply.
type Stats struct {
	RoomsCreated  int
	Created       int
	Updated       int
	Deleted       int
	Notifications int
}

// Applier writes a [Result] to the store. It is stateless between calls; all
// persistent state lives in the [Store].
type Applier struct {
	store Store
	sink  notify.Sink
	tz    *time.Location
	log   *slog.Logger
	now   func() time.Time
}

// NewApplier creates an Applier. Notifications staged during an apply are
// published to sink after the transaction has committed. Shifts read back
// from the store are reported in tz; nil means UTC.
func NewApplier(store Store, sink notify.Sink, tz *time.Location, logger *slog.Logger) *Applier {
	if tz == nil {
		tz = time.UTC
	}
	return &Applier{store: store, sink: sink, tz: tz, log: logger, now: time.Now}
}

// Apply performs the mutations described by res for src inside a single
// transaction, in this order: create locations for new rooms, create added
// shifts and their linkages, update changed shifts, delete removed shifts,
// stamp the source as imported. actor is recorded as creator or updater.
//
// Either every mutation is persisted or none is. Notifications are only
// published once the transaction has committed.
func (a *Applier) Apply(ctx context.Context, src *model.Source, res *Result, actor string) (Stats, error) {
	var stats Stats
	var staged []notify.Event

	err := a.store.InTx(ctx, func(tx Tx) error {
		stats = Stats{}
		staged = nil
		now := a.now().UTC()

		for _, room := range res.NewRooms {
			loc, err := tx.CreateLocation(ctx, room.Name)
			if err != nil {
				return fmt.Errorf("creating location %q: %w", room.Name, err)
			}
			a.log.InfoContext(ctx, "created schedule location", "location", loc.Name, "location_id", loc.ID)
			stats.RoomsCreated++
		}

		for _, guid := range slices.Sorted(maps.Keys(res.Added)) {
			if err := a.createShift(ctx, tx, src, res.Added[guid], actor, now); err != nil {
				return err
			}
			stats.Created++
		}

		for _, guid := range slices.Sorted(maps.Keys(res.Changed)) {
			ev, err := a.updateShift(ctx, tx, src, res.Changed[guid], actor, now)
			if err != nil {
				return err
			}
			staged = append(staged, ev)
			stats.Updated++
		}

		for _, guid := range slices.Sorted(maps.Keys(res.Deleted)) {
			evs, err := a.deleteShift(ctx, tx, src.ID, guid, res.Deleted[guid].Reason)
			if err != nil {
				return err
			}
			staged = append(staged, evs...)
			stats.Deleted++
		}

		if err := tx.TouchSource(ctx, src.ID, now); err != nil {
			return fmt.Errorf("stamping schedule %d: %w", src.ID, err)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	a.publish(ctx, staged)
	stats.Notifications = len(staged)
	return stats, nil
}

// DeleteSource removes every shift linked to the source through the same path
// Apply uses for deleted events, then removes the source itself. It returns
// the number of shifts deleted.
func (a *Applier) DeleteSource(ctx context.Context, src *model.Source) (int, error) {
	var deleted int
	var staged []notify.Event

	err := a.store.InTx(ctx, func(tx Tx) error {
		deleted = 0
		staged = nil

		links, err := tx.ListLinkages(ctx, src.ID)
		if err != nil {
			return fmt.Errorf("listing shifts of schedule %d: %w", src.ID, err)
		}
		for _, l := range links {
			evs, err := a.deleteShift(ctx, tx, src.ID, l.GUID, ReasonRemoved)
			if err != nil {
				return err
			}
			staged = append(staged, evs...)
			deleted++
		}

		if err := tx.DeleteSource(ctx, src.ID); err != nil {
			return fmt.Errorf("deleting schedule %d: %w", src.ID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.log.InfoContext(ctx, "schedule deleted", "schedule", src.Name, "schedule_id", src.ID, "shifts", deleted)
	a.publish(ctx, staged)
	return deleted, nil
}

func (a *Applier) publish(ctx context.Context, events []notify.Event) {
	if a.sink == nil {
		return
	}
	for _, ev := range events {
		a.sink.Publish(ctx, ev)
	}
}

func (a *Applier) createShift(ctx context.Context, tx Tx, src *model.Source, ev model.Event, actor string, now time.Time) error {
	loc, err := tx.GetLocationByName(ctx, ev.Room.Name)
	if err != nil {
		return fmt.Errorf("resolving location %q: %w", ev.Room.Name, err)
	}
	if loc == nil {
		return fmt.Errorf("resolving location %q: not found", ev.Room.Name)
	}

	shift := &model.Shift{
		Title:         ev.Title,
		ShiftTypeID:   src.ShiftTypeID,
		LocationID:    loc.ID,
		Start:         ev.Start,
		End:           ev.End(),
		URL:           ev.URL,
		TransactionID: model.TransactionID(src.ID),
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateShift(ctx, shift); err != nil {
		return fmt.Errorf("creating shift for %s: %w", ev.GUID, err)
	}
	if err := tx.CreateLinkage(ctx, model.Linkage{SourceID: src.ID, GUID: ev.GUID, ShiftID: shift.ID}); err != nil {
		return fmt.Errorf("linking shift %d to %s: %w", shift.ID, ev.GUID, err)
	}

	a.log.InfoContext(ctx, "created schedule shift",
		"shift", shift.Title,
		"location", loc.Name,
		"from", shift.Start.Format(time.RFC3339),
		"to", shift.End.Format(time.RFC3339),
		"guid", ev.GUID,
	)
	return nil
}

func (a *Applier) updateShift(ctx context.Context, tx Tx, src *model.Source, ev model.Event, actor string, now time.Time) (notify.Event, error) {
	shift, err := a.linkedShift(ctx, tx, src.ID, ev.GUID)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		return nil, fmt.Errorf("updating %s: linked shift not found", ev.GUID)
	}

	loc, err := tx.GetLocationByName(ctx, ev.Room.Name)
	if err != nil {
		return nil, fmt.Errorf("resolving location %q: %w", ev.Room.Name, err)
	}
	if loc == nil {
		return nil, fmt.Errorf("resolving location %q: not found", ev.Room.Name)
	}

	old := *shift
	shift.Title = ev.Title
	shift.ShiftTypeID = src.ShiftTypeID
	shift.LocationID = loc.ID
	shift.Start = ev.Start
	shift.End = ev.End()
	shift.URL = ev.URL
	shift.UpdatedBy = actor
	shift.UpdatedAt = now

	if err := tx.UpdateShift(ctx, shift); err != nil {
		return nil, fmt.Errorf("updating shift %d: %w", shift.ID, err)
	}

	a.log.InfoContext(ctx, "updated schedule shift",
		"shift", shift.Title,
		"location", loc.Name,
		"from", shift.Start.Format(time.RFC3339),
		"to", shift.End.Format(time.RFC3339),
		"guid", ev.GUID,
	)
	return notify.ShiftUpdating{Old: old, New: *shift}, nil
}

// deleteShift removes the shift linked to guid and its linkage. The returned
// notifications are built from the sign-ups read before anything is deleted.
func (a *Applier) deleteShift(ctx context.Context, tx Tx, sourceID int64, guid string, reason Reason) ([]notify.Event, error) {
	shift, err := a.linkedShift(ctx, tx, sourceID, guid)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		// Linkage without a shift: drop the dangling row and move on.
		a.log.WarnContext(ctx, "linked shift missing", "schedule_id", sourceID, "guid", guid)
		if err := tx.DeleteLinkage(ctx, sourceID, guid); err != nil {
			return nil, fmt.Errorf("unlinking %s: %w", guid, err)
		}
		return nil, nil
	}

	entries, err := tx.ListShiftEntries(ctx, shift.ID)
	if err != nil {
		return nil, fmt.Errorf("listing entries of shift %d: %w", shift.ID, err)
	}

	var loc model.Location
	if l, err := tx.GetLocation(ctx, shift.LocationID); err != nil {
		return nil, fmt.Errorf("loading location %d: %w", shift.LocationID, err)
	} else if l != nil {
		loc = *l
	}

	var typeName string
	if st, err := tx.GetShiftType(ctx, shift.ShiftTypeID); err != nil {
		return nil, fmt.Errorf("loading shift type %d: %w", shift.ShiftTypeID, err)
	} else if st != nil {
		typeName = st.Name
	}

	events := make([]notify.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, notify.ShiftEntryDeleting{
			UserID:     e.UserID,
			UserName:   e.UserName,
			Start:      shift.Start,
			End:        shift.End,
			ShiftType:  typeName,
			Title:      shift.Title,
			Role:       e.Role,
			Location:   loc,
			Freeloaded: e.Freeloaded,
		})
	}

	if err := tx.DeleteShift(ctx, shift.ID); err != nil {
		return nil, fmt.Errorf("deleting shift %d: %w", shift.ID, err)
	}
	if err := tx.DeleteLinkage(ctx, sourceID, guid); err != nil {
		return nil, fmt.Errorf("unlinking %s: %w", guid, err)
	}

	a.log.InfoContext(ctx, "deleted schedule shift",
		"shift", shift.Title,
		"location", loc.Name,
		"from", shift.Start.Format(time.RFC3339),
		"to", shift.End.Format(time.RFC3339),
		"guid", guid,
		"reason", string(reason),
		"entries", len(entries),
	)
	return events, nil
}

// linkedShift returns the shift linked to (sourceID, guid) with its window in
// the processing zone, or (nil, nil) if the shift row no longer exists.
func (a *Applier) linkedShift(ctx context.Context, tx Tx, sourceID int64, guid string) (*model.Shift, error) {
	link, err := tx.GetLinkage(ctx, sourceID, guid)
	if err != nil {
		return nil, fmt.Errorf("loading linkage %s: %w", guid, err)
	}
	if link == nil {
		return nil, fmt.Errorf("loading linkage %s: not found", guid)
	}
	shift, err := tx.GetShift(ctx, link.ShiftID)
	if err != nil {
		return nil, fmt.Errorf("loading shift %d: %w", link.ShiftID, err)
	}
	if shift != nil {
		shift.Start = shift.Start.In(a.tz)
		shift.End = shift.End.In(a.tz)
	}
	return shift, nil
}
