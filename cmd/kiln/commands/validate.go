package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the Kiln configuration file.

This command checks:
  - YAML syntax validity
  - Engine, store, and telemetry settings
  - Resource definitions (required fields, duplicate names)`,
		Example: `  # Validate the default config file
  kiln validate

  # Validate a specific file
  kiln validate -c /etc/kiln/kiln.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			tel.Logger.WithFields(map[string]interface{}{
				"path":      configPath,
				"resources": len(cfg.Resources),
			}).Info("Configuration is valid")

			fmt.Printf("%s: OK (%d resources)\n", configPath, len(cfg.Resources))
			for _, r := range cfg.Resources {
				fmt.Printf("  %s (%s)\n", r.Name, r.Type)
			}
			return nil
		},
	}

	return cmd
}
