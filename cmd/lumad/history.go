package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/lumad/internal/db"
	"github.com/dokzlo13/lumad/internal/eventbus"
	"github.com/dokzlo13/lumad/internal/ledger"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		device    string
		eventType string
		since     time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent corrections and applied brightness",
		Example: `  lumad history
  lumad history --device eDP-1 --type correction
  lumad history --since 24h --limit 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			q := ledger.Query{Device: device, EventType: eventbus.EventType(eventType), Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			return printHistory(cmd.OutOrStdout(), ledger.New(database.DB, ""), q)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Only show this device")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "Only show this event type (correction, applied, reset, save_failed, device)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show events newer than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events")

	return cmd
}

func printHistory(out io.Writer, l *ledger.Ledger, q ledger.Query) error {
	entries, err := l.Find(q)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No events")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDEVICE\tEVENT\tDETAILS")
	for _, e := range entries {
		details := ""
		if len(e.Payload) > 0 {
			if b, err := json.Marshal(e.Payload); err == nil {
				details = string(b)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Device, e.EventType, details)
	}
	return w.Flush()
}
