package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Inspect persisted resource state",
		Long: `Inspect the persisted lifecycle state of managed resources.

Each resource carries an (action, status) pair such as CREATE_COMPLETE
or SUSPEND_FAILED, its backend identity, and the reason for its last
failure, if any.`,
	}

	cmd.AddCommand(newResourcesListCommand())
	cmd.AddCommand(newResourcesShowCommand())
	cmd.AddCommand(newResourcesForgetCommand())

	return cmd
}

func newResourcesListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resource states",
		Example: `  # List all resource states
  kiln resources list

  # Page through a large inventory
  kiln resources list --limit 20 --offset 40`,
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

			records, err := store.ListResourceStates(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tIDENTITY\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s_%s\t%s\t%s\n",
					r.Name, r.Type, r.Action, r.Status, r.Identity,
					r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of resources to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of resources to skip")

	return cmd
}

func newResourcesShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one resource state",
		Example: `  # Show the state of a single resource
  kiln resources show web-server`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

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

			record, err := store.GetResourceState(ctx, name)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(record)
			}

			fmt.Printf("Name:     %s\n", record.Name)
			fmt.Printf("Type:     %s\n", record.Type)
			fmt.Printf("State:    %s_%s\n", record.Action, record.Status)
			fmt.Printf("Identity: %s\n", record.Identity)
			if record.Reason != "" {
				fmt.Printf("Reason:   %s\n", record.Reason)
			}
			fmt.Printf("Updated:  %s\n", record.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	return cmd
}

func newResourcesForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <name>",
		Short: "Remove a resource's persisted state",
		Long: `Remove the persisted state of a resource without touching the backend.

Use this after a resource has been deleted out of band, or to drop a
stale record. The remote entity, if any, is left untouched.`,
		Example: `  # Drop the stale record for a resource removed out of band
  kiln resources forget web-server`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

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

			if err := store.DeleteResourceState(ctx, name); err != nil {
				return err
			}

			tel.Logger.WithResource(name).Info("Resource state removed")
			fmt.Printf("Forgot %s\n", name)
			return nil
		},
	}

	return cmd
}
