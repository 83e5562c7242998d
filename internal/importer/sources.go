package importer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/poelzi/engelsystem/internal/lock"
	"github.com/poelzi/engelsystem/internal/model"
	"github.com/poelzi/engelsystem/internal/state"
)

// ListSources returns every schedule source with its active rooms.
func (im *Importer) ListSources(ctx context.Context) ([]model.Source, error) {
	return im.store.ListSources(ctx)
}

// GetSource returns one schedule source or [ErrSourceNotFound].
func (im *Importer) GetSource(ctx context.Context, sourceID int64) (*model.Source, error) {
	src, err := im.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %d", ErrSourceNotFound, sourceID)
	}
	return src, nil
}

// SaveSource creates src when its ID is zero and updates the existing source
// otherwise. The shift type is checked first; active rooms must name existing
// locations. On success src carries its ID and timestamps.
func (im *Importer) SaveSource(ctx context.Context, src *model.Source) error {
	st, err := im.store.GetShiftType(ctx, src.ShiftTypeID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("%w: %d", ErrInvalidShiftType, src.ShiftTypeID)
	}
	if err := src.Validate(); err != nil {
		return err
	}

	creating := src.ID == 0
	if !creating {
		unlock, err := im.locker.Lock(ctx, lock.SourceKey(src.ID))
		if err != nil {
			return fmt.Errorf("locking schedule %d: %w", src.ID, err)
		}
		defer im.unlock(src.ID, unlock)
	}

	saved := *src
	err = im.store.InTx(ctx, func(tx *state.Tx) error {
		ids, err := locationIDs(ctx, tx, saved.ActiveRooms)
		if err != nil {
			return err
		}

		now := im.now().UTC()
		if creating {
			saved.CreatedAt, saved.UpdatedAt = now, now
			if err := tx.CreateSource(ctx, &saved); err != nil {
				return err
			}
		} else {
			existing, err := tx.GetSource(ctx, saved.ID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("%w: %d", ErrSourceNotFound, saved.ID)
			}
			saved.CreatedAt, saved.UpdatedAt = existing.CreatedAt, now
			if err := tx.UpdateSource(ctx, &saved); err != nil {
				return err
			}
		}
		return tx.SetSourceLocations(ctx, saved.ID, ids)
	})
	if err != nil {
		return err
	}
	*src = saved

	im.log.InfoContext(ctx, "saved schedule",
		"schedule", src.Name,
		"schedule_id", src.ID,
		"url", src.URL,
		"format", src.Format,
		"shift_type", st.Name,
		"needed_from_shift_type", src.NeededFromShiftType,
		"minutes_before", src.MinutesBefore,
		"minutes_after", src.MinutesAfter,
		"active_rooms", src.ActiveRooms,
		"created", creating,
	)
	return nil
}

func locationIDs(ctx context.Context, tx *state.Tx, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		loc, err := tx.GetLocationByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if loc == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
		}
		ids = append(ids, loc.ID)
	}
	return ids, nil
}

// DeleteSource removes a source and every shift it imported, notifying the
// volunteers signed up for those shifts. It returns the number of deleted
// shifts.
func (im *Importer) DeleteSource(ctx context.Context, sourceID int64) (int, error) {
	ctx, span := im.tracer.Start(ctx, spanDelete, trace.WithAttributes(attribute.Int64("schedule.id", sourceID)))
	defer span.End()

	unlock, err := im.locker.Lock(ctx, lock.SourceKey(sourceID))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("locking schedule %d: %w", sourceID, err)
	}
	defer im.unlock(sourceID, unlock)

	src, err := im.GetSource(ctx, sourceID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	n, err := im.applier.DeleteSource(ctx, src)
	if err != nil {
		im.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		return 0, err
	}
	if n > 0 {
		im.cntDeleted.Add(ctx, int64(n))
	}
	span.SetAttributes(attribute.Int("schedule.deleted", n))
	return n, nil
}
