package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poelzi/engelsystem/internal/config"
	"github.com/poelzi/engelsystem/internal/model"
)

// Catalog is what the wizard needs to register a schedule source.
type Catalog interface {
	ListShiftTypes(ctx context.Context) ([]model.ShiftType, error)
	CreateShiftType(ctx context.Context, name string) (*model.ShiftType, error)
	ListLocations(ctx context.Context) ([]model.Location, error)
	CreateLocation(ctx context.Context, name string) (*model.Location, error)
	DiscoverRooms(ctx context.Context, url, format string) ([]model.Room, error)
	SaveSource(ctx context.Context, src *model.Source) error
}

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// WriteConfig asks for the importer settings and writes them to cfgPath.
// It returns false when the user keeps an existing file.
func (wiz *Wizard) WriteConfig(cfgPath, defaultDB string) (bool, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to the schedule importer setup!\n\n")

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n\n")
			return false, nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	fmt.Fprintf(wiz.w, "Step 1/3: Database\n")
	database := wiz.prompt.String("SQLite path or postgres:// URL", defaultDB)
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 2/3: Import\n")
	tz := wiz.askTimezone()
	languages := []string{"en", "de"}
	li, err := wiz.prompt.Select("Message language", languages)
	if err != nil {
		return false, fmt.Errorf("selecting language: %w", err)
	}
	schedule := wiz.askSchedule()
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 3/3: Notifications\n")
	webhook := wiz.prompt.Optional("Webhook URL for shift change notifications")
	fmt.Fprintf(wiz.w, "\n")

	cfg := &config.Config{
		Database: database,
		Timezone: tz,
		Language: languages[li],
		Daemon:   config.DaemonConfig{Schedule: schedule},
		Notifications: config.NotificationsConfig{
			WebhookURL: webhook,
		},
	}
	if err := cfg.Write(cfgPath); err != nil {
		return false, err
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)
	wiz.logger.Debug("config written", "path", cfgPath)
	return true, nil
}

func (wiz *Wizard) askTimezone() string {
	for {
		tz := wiz.prompt.String("Timezone of the event", config.DefaultTimezone)
		if _, err := time.LoadLocation(tz); err != nil {
			fmt.Fprintf(wiz.w, "  (unknown timezone %q, use an IANA name such as Europe/Berlin)\n", tz)
			continue
		}
		return tz
	}
}

func (wiz *Wizard) askSchedule() string {
	for {
		spec := wiz.prompt.String("Import schedule for the daemon (cron)", config.DefaultDaemonSchedule)
		if _, err := cron.ParseStandard(spec); err != nil {
			fmt.Fprintf(wiz.w, "  (%v)\n", err)
			continue
		}
		return spec
	}
}

// AddSource walks through registering a schedule source: feed, shift type,
// buffers and the rooms to import. Rooms are discovered from the feed and
// missing locations are created. It returns nil without saving when the user
// declines.
func (wiz *Wizard) AddSource(ctx context.Context, cat Catalog) (*model.Source, error) {
	if !wiz.prompt.Confirm("Add a schedule source now?", true) {
		return nil, nil //nolint:nilnil // declined
	}

	src := &model.Source{}
	src.Name = wiz.prompt.String("Name", "")
	src.URL = wiz.prompt.String("Feed URL", "")
	formats := []string{model.FormatXML, model.FormatICS}
	fi, err := wiz.prompt.Select("Feed format", []string{"Frab XML", "iCalendar"})
	if err != nil {
		return nil, fmt.Errorf("selecting format: %w", err)
	}
	src.Format = formats[fi]

	st, err := wiz.chooseShiftType(ctx, cat)
	if err != nil {
		return nil, err
	}
	src.ShiftTypeID = st.ID

	src.MinutesBefore = wiz.prompt.Int("Minutes before each event", 15)
	src.MinutesAfter = wiz.prompt.Int("Minutes after each event", 15)

	if src.ActiveRooms, err = wiz.chooseRooms(ctx, cat, src); err != nil {
		return nil, err
	}

	if err := cat.SaveSource(ctx, src); err != nil {
		return nil, err
	}
	fmt.Fprintf(wiz.w, "  ✓ Schedule %q saved with id %d\n", src.Name, src.ID)
	fmt.Fprintf(wiz.w, "  Preview with: scheduleimport preview %d\n\n", src.ID)
	return src, nil
}

func (wiz *Wizard) chooseShiftType(ctx context.Context, cat Catalog) (*model.ShiftType, error) {
	types, err := cat.ListShiftTypes(ctx)
	if err != nil {
		return nil, err
	}

	options := make([]string, 0, len(types)+1)
	for _, st := range types {
		options = append(options, st.Name)
	}
	options = append(options, "(new shift type)")

	idx, err := wiz.prompt.Select("Shift type for imported shifts", options)
	if err != nil {
		return nil, fmt.Errorf("selecting shift type: %w", err)
	}
	if idx < len(types) {
		return &types[idx], nil
	}
	return cat.CreateShiftType(ctx, wiz.prompt.String("Shift type name", "Talk"))
}

func (wiz *Wizard) chooseRooms(ctx context.Context, cat Catalog, src *model.Source) ([]string, error) {
	fmt.Fprintf(wiz.w, "  Fetching %s...\n", src.URL)
	rooms, err := cat.DiscoverRooms(ctx, src.URL, src.Format)
	if err != nil {
		wiz.logger.Warn("could not read the feed", "error", err)
		fmt.Fprintf(wiz.w, "  ⚠ Could not read the feed; no rooms selected. Add them later with: scheduleimport source save --id <id> --room ...\n")
		return nil, nil
	}
	if len(rooms) == 0 {
		fmt.Fprintf(wiz.w, "  The feed lists no rooms yet.\n")
		return nil, nil
	}

	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name
	}
	picked, err := wiz.prompt.MultiSelect("Rooms to import", names)
	if err != nil {
		return nil, fmt.Errorf("selecting rooms: %w", err)
	}

	existing, err := cat.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, l := range existing {
		known[l.Name] = true
	}

	active := make([]string, 0, len(picked))
	for _, i := range picked {
		name := names[i]
		if !known[name] {
			if _, err := cat.CreateLocation(ctx, name); err != nil {
				return nil, err
			}
			known[name] = true
			fmt.Fprintf(wiz.w, "  ✓ Created location %q\n", name)
		}
		active = append(active, name)
	}
	return active, nil
}
