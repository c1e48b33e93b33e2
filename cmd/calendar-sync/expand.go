// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/service"
)

const defaultExpandDays = 30

// wallClockLayouts are accepted for --dtstart, --from and --to besides RFC 3339.
var wallClockLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

type expandOptions struct {
	RRule    string
	DTStart  string
	Timezone string
	Duration int
	From     string
	To       string
	ExDates  []string
	JSON     bool
}

func newExpandCmd() *cobra.Command {
	opts := expandOptions{}

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences of a recurrence rule",
		Long: `Print the occurrences a recurrence rule produces inside a window, the same
way the service materializes series instances.

Times without an offset are wall-clock times in --tz.`,
		Example: `  calendar-sync expand --rrule "FREQ=WEEKLY;BYDAY=TU" --dtstart 2024-03-05T09:00 --tz Europe/Berlin
  calendar-sync expand --rrule "FREQ=DAILY;COUNT=5" --dtstart 2024-03-05T09:00:00Z --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.RRule, "rrule", "", "RFC 5545 RRULE value, e.g. FREQ=WEEKLY;BYDAY=TU")
	cmd.Flags().StringVar(&opts.DTStart, "dtstart", "", "first occurrence start")
	cmd.Flags().StringVar(&opts.Timezone, "tz", "UTC", "IANA timezone of the series")
	cmd.Flags().IntVar(&opts.Duration, "duration", 60, "occurrence length in minutes")
	cmd.Flags().StringVar(&opts.From, "from", "", "window start (default: dtstart)")
	cmd.Flags().StringVar(&opts.To, "to", "", fmt.Sprintf("window end (default: %d days after the window start)", defaultExpandDays))
	cmd.Flags().StringSliceVar(&opts.ExDates, "exdate", nil, "excluded occurrence starts")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("dtstart")

	return cmd
}

func runExpand(w io.Writer, opts expandOptions) error {
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", opts.Timezone, err)
	}

	dtstart, err := parseInstant(opts.DTStart, loc)
	if err != nil {
		return fmt.Errorf("invalid --dtstart: %w", err)
	}
	from := dtstart
	if opts.From != "" {
		if from, err = parseInstant(opts.From, loc); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}
	to := from.AddDate(0, 0, defaultExpandDays)
	if opts.To != "" {
		if to, err = parseInstant(opts.To, loc); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}

	rule := &models.RecurrenceRule{
		RRule:    opts.RRule,
		DTStart:  dtstart,
		Duration: opts.Duration,
		Timezone: opts.Timezone,
	}
	for _, value := range opts.ExDates {
		exdate, err := parseInstant(value, loc)
		if err != nil {
			return fmt.Errorf("invalid --exdate %q: %w", value, err)
		}
		rule.ExDates = append(rule.ExDates, exdate)
	}

	occurrences, err := service.NewOccurrenceService().Expand(rule, from, to)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(occurrences)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tUTC")
	for _, occ := range occurrences {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			occ.Start.In(loc).Format(time.RFC3339),
			occ.End.In(loc).Format(time.RFC3339),
			occ.Start.UTC().Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d occurrences\n", len(occurrences))
	return err
}

// parseInstant accepts RFC 3339 or a wall-clock time in loc.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", value)
}
