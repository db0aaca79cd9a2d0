package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/db"
	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/geo"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/monitor"
	"github.com/dokzlo13/sunddc/internal/settings"
	"github.com/dokzlo13/sunddc/internal/solar"
)

// openStore opens the database and seeds preference defaults, so the CLI
// works before the daemon ever ran.
func openStore(cfg *config.Config) (*db.DB, *settings.Store, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	store := settings.NewStore(database.DB)
	if err := store.Seed(cfg.Defaults); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, store, nil
}

func newDetectCmd(g *globals) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List attached monitors and whether they take part in transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			sched, err := store.Snapshot()
			if err != nil {
				return err
			}

			client := ddc.New(cfg.DDC.Binary, cfg.DDC.MaxTries, ddc.ExecRunner{})
			if !client.Available() {
				return fmt.Errorf("%s not found: %w", cfg.DDC.Binary, ddc.ErrToolUnavailable)
			}

			ctx := cmd.Context()
			if raw {
				out, err := client.DetectRaw(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}

			registry := monitor.NewRegistry(client, func() []string { return sched.DisabledMonitors })
			displays, err := registry.Describe(ctx)
			if err != nil {
				return err
			}
			return printDisplays(cmd.OutOrStdout(), displays)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the control tool output unparsed")
	return cmd
}

func printDisplays(w io.Writer, displays []monitor.Display) error {
	if len(displays) == 0 {
		_, err := fmt.Fprintln(w, "no monitors found")
		return err
	}
	for _, d := range displays {
		state := "enabled"
		if d.Disabled {
			state = "disabled"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Model, state); err != nil {
			return err
		}
	}
	return nil
}

func newGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Show one or all preferences",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			if len(args) == 1 {
				if _, ok := settings.KindOf(args[0]); !ok {
					return fmt.Errorf("unknown key %q (known: %s)", args[0], strings.Join(settings.Keys(), ", "))
				}
				value, err := store.Get(args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			}

			values, err := store.All()
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), values)
		},
	}
}

func printSettings(w io.Writer, values map[string]json.RawMessage) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%-24s %s\n", k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

func newSetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a preference; a running daemon picks it up",
		Long: "Change a preference. Lists (disabled-monitors) are comma separated, an empty\n" +
			"string clears them. A running daemon reinitializes within a few seconds.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			value, err := settings.ParseValue(args[0], args[1])
			if err != nil {
				return err
			}
			return store.Set(args[0], value)
		},
	}
}

func newScheduleCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show the effective sunrise and sunset and the next transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			sched, err := store.Snapshot()
			if err != nil {
				return err
			}
			// Cached sun times are wall-clock values in the configured zone
			tz, err := geo.LoadTimezone(cfg.Geo.Timezone)
			if err != nil {
				return err
			}
			return printSchedule(cmd.OutOrStdout(), sched, time.Now().In(tz))
		},
	}
}

func printSchedule(w io.Writer, sched settings.Schedule, now time.Time) error {
	var b strings.Builder

	mode := "fixed"
	if sched.UseAutomaticLocation {
		mode = "automatic"
	}
	fmt.Fprintf(&b, "enabled:   %t\n", sched.Enabled)
	fmt.Fprintf(&b, "mode:      %s\n", mode)

	resolver := solar.NewResolver(sched)
	for _, row := range []struct {
		prefix  solar.Prefix
		enabled bool
		target  int
	}{
		{solar.Sunrise, sched.SunriseEnabled, sched.SunriseTarget},
		{solar.Sunset, sched.SunsetEnabled, sched.SunsetTarget},
	} {
		minute, ok := resolver.Resolve(row.prefix)
		if !ok {
			fmt.Fprintf(&b, "%-10s unknown\n", string(row.prefix)+":")
			continue
		}
		state := fmt.Sprintf("-> %d%%", row.target)
		if !row.enabled {
			state = "(off)"
		}
		next := nextOccurrence(minute, now)
		fmt.Fprintf(&b, "%-10s %s %s, next %s\n", string(row.prefix)+":", solar.FormatClock(minute), state, humanize.RelTime(next, now, "ago", "from now"))
	}

	fmt.Fprintf(&b, "step:      %s\n", sched.StepDelay)
	if len(sched.DisabledMonitors) > 0 {
		fmt.Fprintf(&b, "disabled:  %s\n", strings.Join(sched.DisabledMonitors, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// nextOccurrence returns the next wall-clock time at minute of day, today
// or tomorrow.
func nextOccurrence(minute int, now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), minute/60, minute%60, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func newHistoryCmd(g *globals) *cobra.Command {
	var limit int
	var session string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transitions and sun time refreshes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			l := ledger.New(database.DB)
			var entries []*ledger.Entry
			if session != "" {
				entries, err = l.Session(session)
			} else {
				entries, err = l.Recent(limit)
			}
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), entries, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().StringVar(&session, "session", "", "show every event of one session")
	return cmd
}

func printHistory(w io.Writer, entries []*ledger.Entry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no history")
		return err
	}
	for _, e := range entries {
		session := e.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		if session == "" {
			session = "-"
		}
		payload := ""
		if e.Payload != nil {
			data, _ := json.Marshal(e.Payload)
			payload = string(data)
		}
		when := humanize.RelTime(e.Timestamp, now, "ago", "from now")
		if _, err := fmt.Fprintf(w, "%-16s %-22s %-8s %s\n", when, e.EventType, session, payload); err != nil {
			return err
		}
	}
	return nil
}

func newRefreshCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch today's sunrise and sunset now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			database, store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			tz, err := geo.LoadTimezone(cfg.Geo.Timezone)
			if err != nil {
				return err
			}
			locator, provider, err := geo.FromConfig(cfg.Geo, geo.NewCache(database.DB, 0))
			if err != nil {
				return err
			}

			var recorder ledger.Recorder = ledger.Nop{}
			if cfg.Ledger.IsEnabled() {
				recorder = ledger.New(database.DB)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Geo.HTTPTimeout.Duration()+30*time.Second)
			defer cancel()

			sched, err := store.Snapshot()
			if err != nil {
				return err
			}
			if !sched.UseAutomaticLocation {
				return fmt.Errorf("automatic location is off; enable it with: sunddc set %s true", settings.KeyUseAutomaticLocation)
			}

			if err := geo.NewRefresher(locator, provider, store, recorder, tz).Refresh(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sunrise %s, sunset %s\n", store.String(settings.KeyCachedSunrise), store.String(settings.KeyCachedSunset))
			return nil
		},
	}
}
