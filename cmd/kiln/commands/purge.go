package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCommand() *cobra.Command {
	var (
		maxPerResource int
		batchSize      int
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Trim the lifecycle event log",
		Long: `Trim the lifecycle event log so each resource keeps at most a fixed
number of events, deleting the oldest first.

Defaults come from the store configuration; flags override them for a
one-off purge.`,
		Example: `  # Purge per the configured retention
  kiln purge

  # Keep only the 50 newest events per resource
  kiln purge --max-events 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			ctx := cmd.Context()

			if maxPerResource == 0 {
				maxPerResource = cfg.Store.MaxEventsPerResource
			}
			if batchSize == 0 {
				batchSize = cfg.Store.EventPurgeBatchSize
			}
			if maxPerResource <= 0 {
				fmt.Println("Event retention is unlimited; nothing to purge")
				return nil
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.PurgeEvents(ctx, maxPerResource, batchSize)
			if err != nil {
				return err
			}

			tel.Logger.WithFields(map[string]interface{}{
				"deleted":          deleted,
				"max_per_resource": maxPerResource,
			}).Info("Event log purged")

			fmt.Printf("Purged %d events (keeping %d per resource)\n", deleted, maxPerResource)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPerResource, "max-events", 0, "events to keep per resource (0 = use config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "events deleted per pass (0 = use config)")

	return cmd
}
