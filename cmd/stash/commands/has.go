package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/stash/internal/printer"
	"github.com/dyluth/stash/pkg/stash"
)

var hasCmd = &cobra.Command{
	Use:   "has",
	Short: "Check whether any key exists in the prefix namespace",
	Long: `Exit 0 when at least one key exists under the configured prefix, exit 1
otherwise. Useful from scripts.`,
	RunE: runHas,
}

func init() {
	rootCmd.AddCommand(hasCmd)
}

func runHas(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, closer, prefix, err := resolveBackend()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	found, err := stash.HasGroup(ctx, s, prefix)
	if err != nil {
		return printer.Error("Failed to check namespace", err.Error(), nil)
	}

	if !found {
		return printer.Error("No keys found",
			"Nothing is stored under prefix "+prefix+".",
			nil)
	}

	printer.Success("Keys exist under prefix %q\n", prefix)
	return nil
}
