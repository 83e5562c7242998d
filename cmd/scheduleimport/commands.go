package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/poelzi/engelsystem/internal/importer"
	"github.com/poelzi/engelsystem/internal/model"
	"github.com/poelzi/engelsystem/internal/reconcile"
	"github.com/poelzi/engelsystem/internal/setup"
	"github.com/poelzi/engelsystem/internal/state"
)

const timeLayout = "2006-01-02 15:04"

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid schedule id %q", arg)
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// source
// ---------------------------------------------------------------------------

func sourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage schedule sources",
	}
	cmd.AddCommand(sourceListCmd(), sourceSaveCmd(), sourceDeleteCmd())
	return cmd
}

func sourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedule sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := app.importer.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFORMAT\tSHIFT TYPE\tBUFFER\tROOMS\tLAST IMPORT\tURL")
			for _, s := range sources {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t-%dm/+%dm\t%s\t%s\t%s\n",
					s.ID,
					s.Name,
					s.Format,
					s.ShiftTypeID,
					s.MinutesBefore,
					s.MinutesAfter,
					strings.Join(s.ActiveRooms, ", "),
					s.UpdatedAt.In(app.cfg.Location()).Format(timeLayout),
					s.URL,
				)
			}
			return w.Flush()
		},
	}
}

func sourceSaveCmd() *cobra.Command {
	var (
		id  int64
		src model.Source
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create a schedule source, or update one with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := src
			if id != 0 {
				existing, err := app.importer.GetSource(ctx, id)
				if err != nil {
					return err
				}
				target = mergeSource(*existing, src, cmd.Flags().Changed)
			}

			if err := app.importer.SaveSource(ctx, &target); err != nil {
				return err
			}
			fmt.Println(translate(language(), msgEditSuccess, target.Name))
			fmt.Printf("id: %d\n", target.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&id, "id", 0, "id of the source to update")
	f.StringVar(&src.Name, "name", "", "display name")
	f.StringVar(&src.URL, "url", "", "feed URL")
	f.StringVar(&src.Format, "format", model.FormatXML, "feed format: xml or ics")
	f.Int64Var(&src.ShiftTypeID, "shift-type", 0, "shift type id for imported shifts")
	f.BoolVar(&src.NeededFromShiftType, "needed-from-shift-type", false, "take required angel types from the shift type instead of the room")
	f.IntVar(&src.MinutesBefore, "minutes-before", 15, "minutes added before each event")
	f.IntVar(&src.MinutesAfter, "minutes-after", 15, "minutes added after each event")
	f.StringSliceVar(&src.ActiveRooms, "room", nil, "active room (repeatable)")
	return cmd
}

// mergeSource overlays the flags the operator set onto an existing source.
func mergeSource(existing, flags model.Source, changed func(string) bool) model.Source {
	out := existing
	if changed("name") {
		out.Name = flags.Name
	}
	if changed("url") {
		out.URL = flags.URL
	}
	if changed("format") {
		out.Format = flags.Format
	}
	if changed("shift-type") {
		out.ShiftTypeID = flags.ShiftTypeID
	}
	if changed("needed-from-shift-type") {
		out.NeededFromShiftType = flags.NeededFromShiftType
	}
	if changed("minutes-before") {
		out.MinutesBefore = flags.MinutesBefore
	}
	if changed("minutes-after") {
		out.MinutesAfter = flags.MinutesAfter
	}
	if changed("room") {
		out.ActiveRooms = flags.ActiveRooms
	}
	return out
}

func sourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a schedule source and every shift it imported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			src, err := app.importer.GetSource(cmd.Context(), id)
			if err != nil {
				return err
			}
			n, err := app.importer.DeleteSource(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(translate(language(), msgDeleteSuccess, src.Name, n))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// preview / import / daemon
// ---------------------------------------------------------------------------

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <id>",
		Short: "Show what importing a schedule would change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rep, err := app.importer.Preview(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderResult(os.Stdout, language(), rep.Result, app.cfg.Location())
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "import [<id>]",
		Short: "Import a schedule (or all with --all)",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return app.importer.CommitAll(cmd.Context())
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rep, err := app.importer.Commit(cmd.Context(), id)
			if err != nil {
				return err
			}
			if verbose {
				renderResult(os.Stdout, language(), rep.Result, app.cfg.Location())
			}
			fmt.Println(translate(language(), msgImportSuccess,
				rep.Source.Name, rep.Stats.Created, rep.Stats.Updated, rep.Stats.Deleted))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "import every source")
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Import every source now and then on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.importer.Run(cmd.Context(), app.cfg.Daemon.Schedule)
			if cmd.Context().Err() != nil {
				app.logger.Info("shutdown complete")
				return nil
			}
			return err
		},
	}
}

// renderResult prints a diff grouped the way the operator reviews it.
func renderResult(w io.Writer, lang string, res *reconcile.Result, tz *time.Location) {
	if res.IsEmpty() {
		fmt.Fprintln(w, translate(lang, msgNoChanges))
		return
	}

	if len(res.NewRooms) > 0 {
		fmt.Fprintf(w, "%s (%d)\n", translate(lang, msgRoomsAdd), len(res.NewRooms))
		for _, r := range res.NewRooms {
			fmt.Fprintf(w, "  + %s\n", r.Name)
		}
	}

	printEvents := func(key, mark string, events map[string]model.Event) {
		if len(events) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d)\n", translate(lang, key), len(events))
		for _, guid := range slices.Sorted(maps.Keys(events)) {
			fmt.Fprintf(w, "  %s %s\n", mark, eventLine(events[guid], tz))
		}
	}
	printEvents(msgShiftsAdd, "+", res.Added)
	printEvents(msgShiftsUpdate, "~", res.Changed)

	if len(res.Deleted) > 0 {
		fmt.Fprintf(w, "%s (%d)\n", translate(lang, msgShiftsDelete), len(res.Deleted))
		for _, guid := range slices.Sorted(maps.Keys(res.Deleted)) {
			d := res.Deleted[guid]
			reason := msgReasonRemoved
			if d.Reason == reconcile.ReasonRoomInactive {
				reason = msgReasonRoomInactive
			}
			fmt.Fprintf(w, "  - %s (%s)\n", eventLine(d.Event, tz), translate(lang, reason))
		}
	}
}

func eventLine(ev model.Event, tz *time.Location) string {
	return fmt.Sprintf("%s  %s - %s  %s  [%s]",
		ev.Start.In(tz).Format(timeLayout),
		ev.End().In(tz).Format("15:04"),
		ev.Room.Name,
		ev.Title,
		ev.GUID,
	)
}

// ---------------------------------------------------------------------------
// shift-type / location / version
// ---------------------------------------------------------------------------

func shiftTypeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift-type",
		Short: "Manage shift types",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List shift types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := app.store.ListShiftTypes(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range types {
				fmt.Printf("%d\t%s\n", st.ID, st.Name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "add <name>",
		Short: "Create a shift type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.store.CreateShiftType(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\n", st.ID, st.Name)
			return nil
		},
	})
	return cmd
}

func locationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage locations (rooms)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := app.store.ListLocations(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range locs {
				fmt.Printf("%d\t%s\n", l.ID, l.Name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "add <name>",
		Short: "Create a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.store.CreateLocation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.logger.Info("created location", "location", l.Name, "location_id", l.ID)
			fmt.Printf("%d\t%s\n", l.ID, l.Name)
			return nil
		},
	})
	return cmd
}

// catalog serves the setup wizard from the store and the importer.
type catalog struct {
	*state.Store
	*importer.Importer
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Interactive first-run setup",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"bare": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)

			defaultDB, err := state.DefaultDBPath()
			if err != nil {
				return fmt.Errorf("resolving state DB path: %w", err)
			}
			if _, err := wiz.WriteConfig(cfgPath, defaultDB); err != nil {
				return err
			}

			if err := initApp(cmd.Context(), true); err != nil {
				return err
			}
			defer closeApp()
			_, err = wiz.AddSource(cmd.Context(), catalog{Store: app.store, Importer: app.importer})
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"bare": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("scheduleimport", version)
		},
	}
}
