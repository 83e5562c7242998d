// Package reconcile mirrors a freshly parsed schedule snapshot onto the
// locally persisted shifts of one schedule source.
//
// The package contains two components:
//
//   - [Diff] is a pure function that compares the snapshot with the shifts
//     already linked to the source and reports what to add, change and delete,
//     plus the rooms that have no location yet.
//   - [Applier] writes such a result to the store in a fixed order inside one
//     transaction and publishes domain notifications once it has committed.
package reconcile

import (
	"context"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

// Store is the persistence the reconcile engine works against. The importer
// adapts a SQL-backed state store to it.
type Store interface {
	ListLocations(ctx context.Context) ([]model.Location, error)
	ListLinkedShifts(ctx context.Context, sourceID int64) ([]model.LinkedShift, error)

	// InTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations and lookups available inside a transaction.
// Lookups return (nil, nil) when the row does not exist.
type Tx interface {
	CreateLocation(ctx context.Context, name string) (*model.Location, error)
	GetLocation(ctx context.Context, id int64) (*model.Location, error)
	GetLocationByName(ctx context.Context, name string) (*model.Location, error)
	GetShiftType(ctx context.Context, id int64) (*model.ShiftType, error)

	GetShift(ctx context.Context, id int64) (*model.Shift, error)
	CreateShift(ctx context.Context, shift *model.Shift) error
	UpdateShift(ctx context.Context, shift *model.Shift) error
	DeleteShift(ctx context.Context, id int64) error
	ListShiftEntries(ctx context.Context, shiftID int64) ([]model.ShiftEntry, error)

	GetLinkage(ctx context.Context, sourceID int64, guid string) (*model.Linkage, error)
	ListLinkages(ctx context.Context, sourceID int64) ([]model.Linkage, error)
	CreateLinkage(ctx context.Context, l model.Linkage) error
	DeleteLinkage(ctx context.Context, sourceID int64, guid string) error

	TouchSource(ctx context.Context, sourceID int64, at time.Time) error
	DeleteSource(ctx context.Context, sourceID int64) error
}
