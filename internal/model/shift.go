package model

import (
	"crypto/md5" //nolint:gosec // not a security boundary; must match previously issued ids
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// transactionSalt is mixed into every transaction id issued by the schedule
// importer. Changing it would re-key every shift created by earlier imports.
const transactionSalt = "5c4ed01e"

// Location is a persisted room. Name is unique.
type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ShiftType is the category a shift belongs to (e.g. "Talk", "Workshop").
type ShiftType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Shift is a locally persisted unit of schedulable work. Start and End are
// stored exactly as normalized by the importer (buffers applied, converted to
// the processing timezone).
type Shift struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	ShiftTypeID   int64     `json:"shift_type_id"`
	LocationID    int64     `json:"location_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	URL           string    `json:"url"`
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatedBy     string    `json:"created_by"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ShiftEntry is a volunteer signed up for a shift.
type ShiftEntry struct {
	ID         int64  `json:"id"`
	ShiftID    int64  `json:"shift_id"`
	UserID     int64  `json:"user_id"`
	UserName   string `json:"user_name"`
	Role       string `json:"role"`
	Freeloaded bool   `json:"freeloaded"`
}

// Linkage joins a schedule source and an event GUID to the shift it produced.
type Linkage struct {
	SourceID int64
	GUID     string
	ShiftID  int64
}

// LinkedShift is a linkage together with the current state of its shift and
// the name of the shift's location. It is what the diff compares incoming
// events against.
type LinkedShift struct {
	Linkage
	Shift        Shift
	LocationName string
}

// TransactionID returns the deterministic transaction identifier for shifts
// created by the given schedule source. The value is a version 4 formatted
// UUID: the first group is the fixed salt, the remaining groups come from the
// md5 digest of the decimal source id.
func TransactionID(sourceID int64) uuid.UUID {
	sum := md5.Sum([]byte(strconv.FormatInt(sourceID, 10))) //nolint:gosec // see import

	var id uuid.UUID
	salt, _ := hex.DecodeString(transactionSalt)
	copy(id[0:4], salt)
	copy(id[4:], sum[4:])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
