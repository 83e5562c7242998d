// Package importer runs schedule imports end to end: it fetches a source's
// feed, parses it, diffs it against the shifts already linked to the source
// and, in commit mode, applies the result. It also owns the lifecycle of
// schedule sources (save and delete) because both must be serialized with
// running imports.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/poelzi/engelsystem/internal/feed"
	"github.com/poelzi/engelsystem/internal/fetch"
	"github.com/poelzi/engelsystem/internal/lock"
	"github.com/poelzi/engelsystem/internal/model"
	"github.com/poelzi/engelsystem/internal/notify"
	"github.com/poelzi/engelsystem/internal/reconcile"
	"github.com/poelzi/engelsystem/internal/state"
)

const (
	otelScope      = "scheduleimport/importer"
	spanPreview    = "importer.preview"
	spanCommit     = "importer.commit"
	spanDelete     = "importer.delete_source"
	metricRooms    = "scheduleimport.rooms.created"
	metricCreated  = "scheduleimport.shifts.created"
	metricUpdated  = "scheduleimport.shifts.updated"
	metricDeleted  = "scheduleimport.shifts.deleted"
	metricNotified = "scheduleimport.notifications"
	metricErrors   = "scheduleimport.errors"
	defaultActor   = "schedule-import"
)

var (
	// ErrSourceNotFound is returned for an unknown schedule source id.
	ErrSourceNotFound = errors.New("schedule source not found")

	// ErrInvalidShiftType is returned when a source references a shift type
	// that does not exist. It is checked before anything is fetched or saved.
	ErrInvalidShiftType = errors.New("invalid shift type")

	// ErrUnknownLocation is returned when a source selects an active room that
	// has no location.
	ErrUnknownLocation = errors.New("unknown location")

	// ErrRequest and ErrRead are the transport and parse failure kinds.
	ErrRequest = fetch.ErrRequest
	ErrRead    = feed.ErrRead
)

// Fetcher returns the raw body behind a feed URL.
// Implemented by [fetch.Fetcher].
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options tunes an [Importer]. Zero values select the defaults.
type Options struct {
	// Location is the timezone imported times are normalized into. Nil means UTC.
	Location *time.Location

	// Actor is recorded as creator or updater of imported shifts.
	Actor string

	// MaxOccurrences caps recurrence expansion in iCalendar feeds.
	MaxOccurrences int
}

// Report describes one preview or commit.
type Report struct {
	Source   *model.Source
	Schedule *model.Schedule
	Result   *reconcile.Result

	// Stats is zero for a preview.
	Stats reconcile.Stats
}

// Importer orchestrates imports for every schedule source in a store.
type Importer struct {
	store   *state.Store
	fetcher Fetcher
	locker  lock.Locker
	applier *reconcile.Applier
	tz      *time.Location
	actor   string
	maxOcc  int
	log     *slog.Logger
	now     func() time.Time

	tracer      trace.Tracer
	cntRooms    metric.Int64Counter
	cntCreated  metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntNotified metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// New creates an Importer. Commits and deletions of the same source are
// serialized through locker; notifications go to sink.
func New(store *state.Store, fetcher Fetcher, locker lock.Locker, sink notify.Sink, opts Options, logger *slog.Logger) *Importer {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	tz := opts.Location
	if tz == nil {
		tz = time.UTC
	}
	actor := opts.Actor
	if actor == "" {
		actor = defaultActor
	}

	return &Importer{
		store:   store,
		fetcher: fetcher,
		locker:  locker,
		applier: reconcile.NewApplier(reconcileStore{store}, sink, tz, logger),
		tz:      tz,
		actor:   actor,
		maxOcc:  opts.MaxOccurrences,
		log:     logger,
		now:     time.Now,

		tracer:      tracer,
		cntRooms:    mustCounter(metricRooms, "Number of locations created for new schedule rooms"),
		cntCreated:  mustCounter(metricCreated, "Number of shifts created by schedule imports"),
		cntUpdated:  mustCounter(metricUpdated, "Number of shifts updated by schedule imports"),
		cntDeleted:  mustCounter(metricDeleted, "Number of shifts deleted by schedule imports"),
		cntNotified: mustCounter(metricNotified, "Number of notifications published by schedule imports"),
		cntErrors:   mustCounter(metricErrors, "Number of failed schedule imports"),
	}
}

// reconcileStore lets the apply engine run transactions on a [state.Store].
type reconcileStore struct {
	*state.Store
}

func (s reconcileStore) InTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return s.Store.InTx(ctx, func(tx *state.Tx) error { return fn(tx) })
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

// Preview fetches and diffs the source's feed without changing anything.
// It takes no lock.
func (im *Importer) Preview(ctx context.Context, sourceID int64) (*Report, error) {
	ctx, span := im.tracer.Start(ctx, spanPreview, trace.WithAttributes(attribute.Int64("schedule.id", sourceID)))
	defer span.End()

	rep, err := im.diff(ctx, sourceID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	im.setResultAttributes(span, rep)
	return rep, nil
}

// Commit imports the source's feed: fetch, parse, diff and apply, all under
// the source's lock so no other commit or deletion of the source interleaves.
func (im *Importer) Commit(ctx context.Context, sourceID int64) (*Report, error) {
	ctx, span := im.tracer.Start(ctx, spanCommit, trace.WithAttributes(attribute.Int64("schedule.id", sourceID)))
	defer span.End()

	rep, err := im.commit(ctx, sourceID)
	if err != nil {
		im.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		return nil, err
	}

	st := rep.Stats
	if st.RoomsCreated > 0 {
		im.cntRooms.Add(ctx, int64(st.RoomsCreated))
	}
	if st.Created > 0 {
		im.cntCreated.Add(ctx, int64(st.Created))
	}
	if st.Updated > 0 {
		im.cntUpdated.Add(ctx, int64(st.Updated))
	}
	if st.Deleted > 0 {
		im.cntDeleted.Add(ctx, int64(st.Deleted))
	}
	if st.Notifications > 0 {
		im.cntNotified.Add(ctx, int64(st.Notifications))
	}
	im.setResultAttributes(span, rep)
	return rep, nil
}

func (im *Importer) commit(ctx context.Context, sourceID int64) (*Report, error) {
	unlock, err := im.locker.Lock(ctx, lock.SourceKey(sourceID))
	if err != nil {
		return nil, fmt.Errorf("locking schedule %d: %w", sourceID, err)
	}
	defer im.unlock(sourceID, unlock)

	rep, err := im.diff(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	im.log.InfoContext(ctx, "Started schedule import", "schedule", rep.Source.Name, "schedule_id", sourceID)
	stats, err := im.applier.Apply(ctx, rep.Source, rep.Result, im.actor)
	if err != nil {
		return nil, fmt.Errorf("importing schedule %q: %w", rep.Source.Name, err)
	}
	rep.Stats = stats
	im.log.InfoContext(ctx, "Ended schedule import",
		"schedule", rep.Source.Name,
		"schedule_id", sourceID,
		"rooms", stats.RoomsCreated,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
	)
	return rep, nil
}

// CommitAll commits every configured source in turn. A failing source does
// not stop the others; all failures are returned joined.
func (im *Importer) CommitAll(ctx context.Context) error {
	sources, err := im.store.ListSources(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := im.Commit(ctx, src.ID); err != nil {
			im.log.ErrorContext(ctx, "schedule import failed", "schedule", src.Name, "schedule_id", src.ID, "error", err)
			errs = append(errs, fmt.Errorf("schedule %q: %w", src.Name, err))
		}
	}
	return errors.Join(errs...)
}

// diff runs the read-only part of an import: load and check the source,
// fetch, parse, and compare with the persisted state.
func (im *Importer) diff(ctx context.Context, sourceID int64) (*Report, error) {
	src, err := im.loadSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	body, err := im.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	parser, err := im.parserFor(src.Format)
	if err != nil {
		return nil, err
	}
	sched, err := parser.Parse(body)
	if err != nil {
		return nil, err
	}

	linked, err := im.store.ListLinkedShifts(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	locations, err := im.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}

	res := reconcile.Diff(sched, src, linked, locations, im.tz)
	im.log.DebugContext(ctx, "computed schedule diff", "schedule", src.Name, "diff", res.String())
	return &Report{Source: src, Schedule: sched, Result: res}, nil
}

// DiscoverRooms fetches and parses a feed that has no source yet and returns
// its rooms, so an operator can choose the active ones.
func (im *Importer) DiscoverRooms(ctx context.Context, url, format string) ([]model.Room, error) {
	body, err := im.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	parser, err := im.parserFor(format)
	if err != nil {
		return nil, err
	}
	sched, err := parser.Parse(body)
	if err != nil {
		return nil, err
	}
	return sched.Rooms(), nil
}

func (im *Importer) parserFor(format string) (feed.Parser, error) {
	p, err := feed.ForFormat(format, im.tz)
	if err != nil {
		return nil, err
	}
	if ics, ok := p.(feed.ICSParser); ok && im.maxOcc > 0 {
		ics.MaxOccurrences = im.maxOcc
		p = ics
	}
	return p, nil
}

// loadSource returns the source and checks that its shift type exists.
func (im *Importer) loadSource(ctx context.Context, sourceID int64) (*model.Source, error) {
	src, err := im.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %d", ErrSourceNotFound, sourceID)
	}
	st, err := im.store.GetShiftType(ctx, src.ShiftTypeID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShiftType, src.ShiftTypeID)
	}
	return src, nil
}

func (im *Importer) unlock(sourceID int64, unlock lock.Unlock) {
	// The caller's context may be cancelled by now; releasing must still happen.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlock(ctx); err != nil {
		im.log.Warn("releasing schedule lock", "schedule_id", sourceID, "error", err)
	}
}

func (im *Importer) setResultAttributes(span trace.Span, rep *Report) {
	span.SetAttributes(
		attribute.String("schedule.name", rep.Source.Name),
		attribute.Int("schedule.added", len(rep.Result.Added)),
		attribute.Int("schedule.changed", len(rep.Result.Changed)),
		attribute.Int("schedule.deleted", len(rep.Result.Deleted)),
		attribute.Int("schedule.new_rooms", len(rep.Result.NewRooms)),
	)
}
