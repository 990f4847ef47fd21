package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/pkg/stores"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the lifecycle event log",
		Long: `Inspect the append-only log of lifecycle events.

Every action start, completion, and failure produces one event, so the
log reconstructs the full history of a resource.`,
	}

	cmd.AddCommand(newEventsListCommand())

	return cmd
}

func newEventsListCommand() *cobra.Command {
	var (
		resource string
		level    string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lifecycle events, newest first",
		Example: `  # List recent events
  kiln events list

  # Events for one resource
  kiln events list --resource web-server

  # Only failures
  kiln events list --level error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := stores.EventFilter{Limit: limit, Offset: offset}
			if resource != "" {
				filter.Resource = &resource
			}
			if level != "" {
				filter.Level = &level
			}

			events, err := store.ListEvents(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(events)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tRESOURCE\tSTATE\tLEVEL\tMESSAGE")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s_%s\t%s\t%s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Resource, e.Action, e.Status, e.Level, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "filter by resource name")
	cmd.Flags().StringVar(&level, "level", "", "filter by event level (info, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
