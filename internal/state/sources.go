package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

const sourceColumns = `id, name, url, format, shift_type_id, needed_from_shift_type,
	minutes_before, minutes_after, created_at, updated_at`

type sourceRow struct {
	ID                  int64  `db:"id"`
	Name                string `db:"name"`
	URL                 string `db:"url"`
	Format              string `db:"format"`
	ShiftTypeID         int64  `db:"shift_type_id"`
	NeededFromShiftType bool   `db:"needed_from_shift_type"`
	MinutesBefore       int    `db:"minutes_before"`
	MinutesAfter        int    `db:"minutes_after"`
	CreatedAt           string `db:"created_at"`
	UpdatedAt           string `db:"updated_at"`
}

func (r sourceRow) toModel() model.Source {
	src := model.Source{
		ID:                  r.ID,
		Name:                r.Name,
		URL:                 r.URL,
		Format:              r.Format,
		ShiftTypeID:         r.ShiftTypeID,
		NeededFromShiftType: r.NeededFromShiftType,
		MinutesBefore:       r.MinutesBefore,
		MinutesAfter:        r.MinutesAfter,
	}
	src.CreatedAt, _ = parseTime(r.CreatedAt)
	src.UpdatedAt, _ = parseTime(r.UpdatedAt)
	return src
}

// GetSource returns the schedule source with its active rooms, or (nil, nil).
func (q *queries) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	var row sourceRow
	err := q.get(ctx, &row, `SELECT `+sourceColumns+` FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading schedule %d: %w", id, err)
	}

	src := row.toModel()
	if src.ActiveRooms, err = q.activeRooms(ctx, id); err != nil {
		return nil, err
	}
	return &src, nil
}

// ListSources returns every schedule source with its active rooms, ordered by
// name.
func (q *queries) ListSources(ctx context.Context) ([]model.Source, error) {
	var rows []sourceRow
	if err := q.sel(ctx, &rows, `SELECT `+sourceColumns+` FROM schedules ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	out := make([]model.Source, 0, len(rows))
	for _, r := range rows {
		src := r.toModel()
		rooms, err := q.activeRooms(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		src.ActiveRooms = rooms
		out = append(out, src)
	}
	return out, nil
}

func (q *queries) activeRooms(ctx context.Context, sourceID int64) ([]string, error) {
	const query = `
		SELECT l.name
		FROM schedule_locations sl
		JOIN locations l ON l.id = sl.location_id
		WHERE sl.schedule_id = ?
		ORDER BY l.name`

	var names []string
	if err := q.sel(ctx, &names, query, sourceID); err != nil {
		return nil, fmt.Errorf("listing rooms of schedule %d: %w", sourceID, err)
	}
	return names, nil
}

// CreateSource inserts a schedule source and sets its ID. Active rooms are
// stored separately with SetSourceLocations.
func (q *queries) CreateSource(ctx context.Context, src *model.Source) error {
	const query = `
		INSERT INTO schedules
		    (name, url, format, shift_type_id, needed_from_shift_type,
		     minutes_before, minutes_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := q.insert(ctx, query,
		src.Name,
		src.URL,
		src.Format,
		src.ShiftTypeID,
		src.NeededFromShiftType,
		src.MinutesBefore,
		src.MinutesAfter,
		formatTime(src.CreatedAt),
		formatTime(src.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating schedule %q: %w", src.Name, err)
	}
	src.ID = id
	return nil
}

// UpdateSource overwrites the settings of an existing schedule source.
func (q *queries) UpdateSource(ctx context.Context, src *model.Source) error {
	const query = `
		UPDATE schedules SET
		    name = ?, url = ?, format = ?, shift_type_id = ?, needed_from_shift_type = ?,
		    minutes_before = ?, minutes_after = ?, updated_at = ?
		WHERE id = ?`

	_, err := q.exec(ctx, query,
		src.Name,
		src.URL,
		src.Format,
		src.ShiftTypeID,
		src.NeededFromShiftType,
		src.MinutesBefore,
		src.MinutesAfter,
		formatTime(src.UpdatedAt),
		src.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule %d: %w", src.ID, err)
	}
	return nil
}

// SetSourceLocations replaces the active rooms of a source.
func (q *queries) SetSourceLocations(ctx context.Context, sourceID int64, locationIDs []int64) error {
	if _, err := q.exec(ctx, `DELETE FROM schedule_locations WHERE schedule_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clearing rooms of schedule %d: %w", sourceID, err)
	}
	for _, id := range locationIDs {
		_, err := q.exec(ctx,
			`INSERT INTO schedule_locations (schedule_id, location_id) VALUES (?, ?)`,
			sourceID, id)
		if err != nil {
			return fmt.Errorf("adding location %d to schedule %d: %w", id, sourceID, err)
		}
	}
	return nil
}

// TouchSource stamps the source as imported at the given time.
func (q *queries) TouchSource(ctx context.Context, sourceID int64, at time.Time) error {
	if _, err := q.exec(ctx, `UPDATE schedules SET updated_at = ? WHERE id = ?`, formatTime(at), sourceID); err != nil {
		return fmt.Errorf("stamping schedule %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes the source together with its room selection and any
// remaining linkages. Linked shifts are not touched.
func (q *queries) DeleteSource(ctx context.Context, sourceID int64) error {
	if _, err := q.exec(ctx, `DELETE FROM schedules WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting schedule %d: %w", sourceID, err)
	}
	return nil
}
