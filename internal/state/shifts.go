package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/poelzi/engelsystem/internal/model"
)

// --- locations ---------------------------------------------------------------

// ListLocations returns all locations ordered by name.
func (q *queries) ListLocations(ctx context.Context) ([]model.Location, error) {
	var locs []model.Location
	if err := q.sel(ctx, &locs, `SELECT id, name FROM locations ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	return locs, nil
}

// GetLocation returns the location with the given id, or (nil, nil).
func (q *queries) GetLocation(ctx context.Context, id int64) (*model.Location, error) {
	var l model.Location
	err := q.get(ctx, &l, `SELECT id, name FROM locations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading location %d: %w", id, err)
	}
	return &l, nil
}

// GetLocationByName returns the location with the given name, or (nil, nil).
func (q *queries) GetLocationByName(ctx context.Context, name string) (*model.Location, error) {
	var l model.Location
	err := q.get(ctx, &l, `SELECT id, name FROM locations WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading location %q: %w", name, err)
	}
	return &l, nil
}

// CreateLocation inserts a location. Names are unique.
func (q *queries) CreateLocation(ctx context.Context, name string) (*model.Location, error) {
	id, err := q.insert(ctx, `INSERT INTO locations (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("creating location %q: %w", name, err)
	}
	return &model.Location{ID: id, Name: name}, nil
}

// --- shift types -------------------------------------------------------------

// ListShiftTypes returns all shift types ordered by name.
func (q *queries) ListShiftTypes(ctx context.Context) ([]model.ShiftType, error) {
	var types []model.ShiftType
	if err := q.sel(ctx, &types, `SELECT id, name FROM shift_types ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing shift types: %w", err)
	}
	return types, nil
}

// GetShiftType returns the shift type with the given id, or (nil, nil).
func (q *queries) GetShiftType(ctx context.Context, id int64) (*model.ShiftType, error) {
	var st model.ShiftType
	err := q.get(ctx, &st, `SELECT id, name FROM shift_types WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading shift type %d: %w", id, err)
	}
	return &st, nil
}

// CreateShiftType inserts a shift type. Names are unique.
func (q *queries) CreateShiftType(ctx context.Context, name string) (*model.ShiftType, error) {
	id, err := q.insert(ctx, `INSERT INTO shift_types (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("creating shift type %q: %w", name, err)
	}
	return &model.ShiftType{ID: id, Name: name}, nil
}

// --- shifts ------------------------------------------------------------------

const shiftColumns = `s.id, s.title, s.shift_type_id, s.location_id, s.starts_at, s.ends_at, s.url,
	s.transaction_id, s.created_by, s.updated_by, s.created_at, s.updated_at`

type shiftRow struct {
	ID            int64  `db:"id"`
	Title         string `db:"title"`
	ShiftTypeID   int64  `db:"shift_type_id"`
	LocationID    int64  `db:"location_id"`
	StartsAt      string `db:"starts_at"`
	EndsAt        string `db:"ends_at"`
	URL           string `db:"url"`
	TransactionID string `db:"transaction_id"`
	CreatedBy     string `db:"created_by"`
	UpdatedBy     string `db:"updated_by"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (r shiftRow) toModel() (model.Shift, error) {
	sh := model.Shift{
		ID:          r.ID,
		Title:       r.Title,
		ShiftTypeID: r.ShiftTypeID,
		LocationID:  r.LocationID,
		URL:         r.URL,
		CreatedBy:   r.CreatedBy,
		UpdatedBy:   r.UpdatedBy,
	}
	var err error
	if sh.Start, err = parseTime(r.StartsAt); err != nil {
		return sh, fmt.Errorf("shift %d start: %w", r.ID, err)
	}
	if sh.End, err = parseTime(r.EndsAt); err != nil {
		return sh, fmt.Errorf("shift %d end: %w", r.ID, err)
	}
	if r.TransactionID != "" {
		if sh.TransactionID, err = uuid.Parse(r.TransactionID); err != nil {
			return sh, fmt.Errorf("shift %d transaction id: %w", r.ID, err)
		}
	}
	sh.CreatedAt, _ = parseTime(r.CreatedAt)
	sh.UpdatedAt, _ = parseTime(r.UpdatedAt)
	return sh, nil
}

func transactionString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// GetShift returns the shift with the given id, or (nil, nil).
func (q *queries) GetShift(ctx context.Context, id int64) (*model.Shift, error) {
	var row shiftRow
	err := q.get(ctx, &row, `SELECT `+shiftColumns+` FROM shifts s WHERE s.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading shift %d: %w", id, err)
	}
	sh, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// CreateShift inserts a shift and sets its ID.
func (q *queries) CreateShift(ctx context.Context, sh *model.Shift) error {
	const query = `
		INSERT INTO shifts
		    (title, shift_type_id, location_id, starts_at, ends_at, url,
		     transaction_id, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := q.insert(ctx, query,
		sh.Title,
		sh.ShiftTypeID,
		sh.LocationID,
		formatTime(sh.Start),
		formatTime(sh.End),
		sh.URL,
		transactionString(sh.TransactionID),
		sh.CreatedBy,
		sh.UpdatedBy,
		formatTime(sh.CreatedAt),
		formatTime(sh.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating shift %q: %w", sh.Title, err)
	}
	sh.ID = id
	return nil
}

// UpdateShift overwrites every mutable column of the shift.
func (q *queries) UpdateShift(ctx context.Context, sh *model.Shift) error {
	const query = `
		UPDATE shifts SET
		    title = ?, shift_type_id = ?, location_id = ?, starts_at = ?, ends_at = ?,
		    url = ?, updated_by = ?, updated_at = ?
		WHERE id = ?`

	_, err := q.exec(ctx, query,
		sh.Title,
		sh.ShiftTypeID,
		sh.LocationID,
		formatTime(sh.Start),
		formatTime(sh.End),
		sh.URL,
		sh.UpdatedBy,
		formatTime(sh.UpdatedAt),
		sh.ID,
	)
	if err != nil {
		return fmt.Errorf("updating shift %d: %w", sh.ID, err)
	}
	return nil
}

// DeleteShift removes the shift. Its sign-ups and linkages go with it.
func (q *queries) DeleteShift(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, `DELETE FROM shifts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting shift %d: %w", id, err)
	}
	return nil
}

// --- shift entries -----------------------------------------------------------

type entryRow struct {
	ID         int64  `db:"id"`
	ShiftID    int64  `db:"shift_id"`
	UserID     int64  `db:"user_id"`
	UserName   string `db:"user_name"`
	AngelType  string `db:"angel_type"`
	Freeloaded bool   `db:"freeloaded"`
}

// ListShiftEntries returns the sign-ups of a shift in sign-up order.
func (q *queries) ListShiftEntries(ctx context.Context, shiftID int64) ([]model.ShiftEntry, error) {
	const query = `
		SELECT id, shift_id, user_id, user_name, angel_type, freeloaded
		FROM shift_entries WHERE shift_id = ? ORDER BY id`

	var rows []entryRow
	if err := q.sel(ctx, &rows, query, shiftID); err != nil {
		return nil, fmt.Errorf("listing entries of shift %d: %w", shiftID, err)
	}
	entries := make([]model.ShiftEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, model.ShiftEntry{
			ID:         r.ID,
			ShiftID:    r.ShiftID,
			UserID:     r.UserID,
			UserName:   r.UserName,
			Role:       r.AngelType,
			Freeloaded: r.Freeloaded,
		})
	}
	return entries, nil
}

// CreateShiftEntry signs a volunteer up for a shift and sets the entry ID.
func (q *queries) CreateShiftEntry(ctx context.Context, e *model.ShiftEntry) error {
	const query = `
		INSERT INTO shift_entries (shift_id, user_id, user_name, angel_type, freeloaded)
		VALUES (?, ?, ?, ?, ?)`

	id, err := q.insert(ctx, query, e.ShiftID, e.UserID, e.UserName, e.Role, e.Freeloaded)
	if err != nil {
		return fmt.Errorf("creating entry on shift %d: %w", e.ShiftID, err)
	}
	e.ID = id
	return nil
}

// --- linkages ----------------------------------------------------------------

type linkageRow struct {
	ScheduleID int64  `db:"schedule_id"`
	GUID       string `db:"guid"`
	ShiftID    int64  `db:"shift_id"`
}

func (r linkageRow) toModel() model.Linkage {
	return model.Linkage{SourceID: r.ScheduleID, GUID: r.GUID, ShiftID: r.ShiftID}
}

// GetLinkage returns the linkage for (sourceID, guid), or (nil, nil).
func (q *queries) GetLinkage(ctx context.Context, sourceID int64, guid string) (*model.Linkage, error) {
	var row linkageRow
	err := q.get(ctx, &row,
		`SELECT schedule_id, guid, shift_id FROM schedule_shift WHERE schedule_id = ? AND guid = ?`,
		sourceID, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading linkage %s: %w", guid, err)
	}
	l := row.toModel()
	return &l, nil
}

// ListLinkages returns every linkage of a source ordered by GUID.
func (q *queries) ListLinkages(ctx context.Context, sourceID int64) ([]model.Linkage, error) {
	var rows []linkageRow
	err := q.sel(ctx, &rows,
		`SELECT schedule_id, guid, shift_id FROM schedule_shift WHERE schedule_id = ? ORDER BY guid`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing linkages of schedule %d: %w", sourceID, err)
	}
	out := make([]model.Linkage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CreateLinkage records that guid of the source produced the shift.
func (q *queries) CreateLinkage(ctx context.Context, l model.Linkage) error {
	_, err := q.exec(ctx,
		`INSERT INTO schedule_shift (schedule_id, guid, shift_id) VALUES (?, ?, ?)`,
		l.SourceID, l.GUID, l.ShiftID)
	if err != nil {
		return fmt.Errorf("creating linkage %s: %w", l.GUID, err)
	}
	return nil
}

// DeleteLinkage removes the linkage for (sourceID, guid). Deleting a missing
// linkage is not an error.
func (q *queries) DeleteLinkage(ctx context.Context, sourceID int64, guid string) error {
	_, err := q.exec(ctx, `DELETE FROM schedule_shift WHERE schedule_id = ? AND guid = ?`, sourceID, guid)
	if err != nil {
		return fmt.Errorf("deleting linkage %s: %w", guid, err)
	}
	return nil
}

type linkedShiftRow struct {
	ScheduleID int64  `db:"schedule_id"`
	GUID       string `db:"guid"`
	shiftRow
	LocationName string `db:"location_name"`
}

// ListLinkedShifts returns every shift imported from the source together with
// its linkage and location name.
func (q *queries) ListLinkedShifts(ctx context.Context, sourceID int64) ([]model.LinkedShift, error) {
	const query = `
		SELECT ss.schedule_id, ss.guid, ` + shiftColumns + `, l.name AS location_name
		FROM schedule_shift ss
		JOIN shifts s ON s.id = ss.shift_id
		JOIN locations l ON l.id = s.location_id
		WHERE ss.schedule_id = ?
		ORDER BY ss.guid`

	var rows []linkedShiftRow
	if err := q.sel(ctx, &rows, query, sourceID); err != nil {
		return nil, fmt.Errorf("listing shifts of schedule %d: %w", sourceID, err)
	}

	out := make([]model.LinkedShift, 0, len(rows))
	for _, r := range rows {
		sh, err := r.shiftRow.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, model.LinkedShift{
			Linkage:      model.Linkage{SourceID: r.ScheduleID, GUID: r.GUID, ShiftID: sh.ID},
			Shift:        sh,
			LocationName: r.LocationName,
		})
	}
	return out, nil
}
