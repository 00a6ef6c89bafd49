package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/stash/internal/printer"
	"github.com/dyluth/stash/pkg/stash"
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Report the total stored size of the prefix namespace",
	RunE:  runSize,
}

func init() {
	rootCmd.AddCommand(sizeCmd)
}

func runSize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, closer, prefix, err := resolveBackend()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	keys, err := stash.GroupKeys(ctx, s, prefix)
	if err != nil {
		return printer.Error("Failed to list keys", err.Error(), nil)
	}

	total, err := stash.GroupSize(ctx, s, prefix)
	if err != nil {
		return printer.Error("Failed to measure namespace", err.Error(), nil)
	}

	printer.Info("%s, %d bytes total under prefix %q\n", keyCount(len(keys)), total, prefix)
	return nil
}
