package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the state store",
		Long: `Check the health of the state store and summarize its contents.

Exits non-zero when the database cannot be reached, so the command
doubles as a liveness probe.`,
		Example: `  # Check the store behind the default config
  kiln status`,
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

			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("store unhealthy: %w", err)
			}

			records, err := store.ListResourceStates(ctx, 1000, 0)
			if err != nil {
				return err
			}
			events, err := store.CountEvents(ctx, "")
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"store":     cfg.Store.Path,
					"healthy":   true,
					"resources": len(records),
					"events":    events,
				})
			}

			fmt.Printf("Store:     %s\n", cfg.Store.Path)
			fmt.Printf("Health:    ok\n")
			fmt.Printf("Resources: %d\n", len(records))
			fmt.Printf("Events:    %d\n", events)
			return nil
		},
	}

	return cmd
}
