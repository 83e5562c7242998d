package reconcile

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
	"github.com/poelzi/engelsystem/internal/notify"
)

// --- Mock Store ---------------------------------------------------------------

// memStore is an in-memory Store. InTx works on a copy of the data and only
// swaps it in when fn succeeds, so rollbacks behave like a real database.
type memStore struct {
	mu   sync.Mutex
	data memData

	// failOn makes the named Tx method return errBoom.
	failOn string
}

type memData struct {
	nextID     int64
	locations  map[int64]model.Location
	shiftTypes map[int64]model.ShiftType
	shifts     map[int64]model.Shift
	entries    map[int64][]model.ShiftEntry
	linkages   map[string]model.Linkage // key: guid (single source per test)
	touched    map[int64]time.Time
	sources    map[int64]bool
}

var errBoom = errors.New("boom")

func newMemStore() *memStore {
	return &memStore{data: memData{
		nextID:     100,
		locations:  make(map[int64]model.Location),
		shiftTypes: map[int64]model.ShiftType{1: {ID: 1, Name: "Talk"}},
		shifts:     make(map[int64]model.Shift),
		entries:    make(map[int64][]model.ShiftEntry),
		linkages:   make(map[string]model.Linkage),
		touched:    make(map[int64]time.Time),
		sources:    map[int64]bool{7: true},
	}}
}

func (d memData) clone() memData {
	c := d
	c.locations = maps.Clone(d.locations)
	c.shiftTypes = maps.Clone(d.shiftTypes)
	c.shifts = maps.Clone(d.shifts)
	c.entries = maps.Clone(d.entries)
	c.linkages = maps.Clone(d.linkages)
	c.touched = maps.Clone(d.touched)
	c.sources = maps.Clone(d.sources)
	return c
}

func (m *memStore) ListLocations(_ context.Context) ([]model.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Location, 0, len(m.data.locations))
	for _, id := range slices.Sorted(maps.Keys(m.data.locations)) {
		out = append(out, m.data.locations[id])
	}
	return out, nil
}

func (m *memStore) ListLinkedShifts(_ context.Context, sourceID int64) ([]model.LinkedShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LinkedShift
	for _, l := range m.data.linkages {
		if l.SourceID != sourceID {
			continue
		}
		sh := m.data.shifts[l.ShiftID]
		out = append(out, model.LinkedShift{
			Linkage:      l,
			Shift:        sh,
			LocationName: m.data.locations[sh.LocationID].Name,
		})
	}
	return out, nil
}

func (m *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{d: m.data.clone(), failOn: m.failOn}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.d
	return nil
}

// --- Mock Tx ------------------------------------------------------------------

type memTx struct {
	d      memData
	failOn string
}

func (t *memTx) fail(op string) error {
	if t.failOn == op {
		return errBoom
	}
	return nil
}

func (t *memTx) CreateLocation(_ context.Context, name string) (*model.Location, error) {
	if err := t.fail("CreateLocation"); err != nil {
		return nil, err
	}
	t.d.nextID++
	l := model.Location{ID: t.d.nextID, Name: name}
	t.d.locations[l.ID] = l
	return &l, nil
}

func (t *memTx) GetLocation(_ context.Context, id int64) (*model.Location, error) {
	l, ok := t.d.locations[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (t *memTx) GetLocationByName(_ context.Context, name string) (*model.Location, error) {
	for _, l := range t.d.locations {
		if l.Name == name {
			return &l, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetShiftType(_ context.Context, id int64) (*model.ShiftType, error) {
	st, ok := t.d.shiftTypes[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (t *memTx) GetShift(_ context.Context, id int64) (*model.Shift, error) {
	sh, ok := t.d.shifts[id]
	if !ok {
		return nil, nil
	}
	return &sh, nil
}

func (t *memTx) CreateShift(_ context.Context, shift *model.Shift) error {
	if err := t.fail("CreateShift"); err != nil {
		return err
	}
	t.d.nextID++
	shift.ID = t.d.nextID
	t.d.shifts[shift.ID] = *shift
	return nil
}

func (t *memTx) UpdateShift(_ context.Context, shift *model.Shift) error {
	if err := t.fail("UpdateShift"); err != nil {
		return err
	}
	t.d.shifts[shift.ID] = *shift
	return nil
}

func (t *memTx) DeleteShift(_ context.Context, id int64) error {
	if err := t.fail("DeleteShift"); err != nil {
		return err
	}
	delete(t.d.shifts, id)
	delete(t.d.entries, id)
	return nil
}

func (t *memTx) ListShiftEntries(_ context.Context, shiftID int64) ([]model.ShiftEntry, error) {
	return slices.Clone(t.d.entries[shiftID]), nil
}

func (t *memTx) GetLinkage(_ context.Context, sourceID int64, guid string) (*model.Linkage, error) {
	l, ok := t.d.linkages[guid]
	if !ok || l.SourceID != sourceID {
		return nil, nil
	}
	return &l, nil
}

func (t *memTx) ListLinkages(_ context.Context, sourceID int64) ([]model.Linkage, error) {
	var out []model.Linkage
	for _, guid := range slices.Sorted(maps.Keys(t.d.linkages)) {
		if l := t.d.linkages[guid]; l.SourceID == sourceID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memTx) CreateLinkage(_ context.Context, l model.Linkage) error {
	t.d.linkages[l.GUID] = l
	return nil
}

func (t *memTx) DeleteLinkage(_ context.Context, _ int64, guid string) error {
	delete(t.d.linkages, guid)
	return nil
}

func (t *memTx) TouchSource(_ context.Context, sourceID int64, at time.Time) error {
	if err := t.fail("TouchSource"); err != nil {
		return err
	}
	t.d.touched[sourceID] = at
	return nil
}

func (t *memTx) DeleteSource(_ context.Context, sourceID int64) error {
	delete(t.d.sources, sourceID)
	return nil
}

// --- Recording Sink -----------------------------------------------------------

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) byName(name string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}
