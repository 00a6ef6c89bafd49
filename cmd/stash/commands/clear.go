package commands

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/stash/internal/printer"
	"github.com/dyluth/stash/pkg/stash"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored key in the prefix namespace",
	Long: `Remove all keys under the configured prefix and report how many were
removed. Asks for confirmation unless --yes is given.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
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
	if len(keys) == 0 {
		printer.Info("No keys under prefix %q\n", prefix)
		return nil
	}

	if !clearYes {
		printer.Warning("About to remove %s under prefix %q. Continue? [y/N] ", keyCount(len(keys)), prefix)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			printer.Info("Aborted.\n")
			return nil
		}
	}

	removed, err := stash.ClearGroup(ctx, s, prefix)
	if err != nil {
		return printer.Error("Failed to clear namespace",
			err.Error(),
			[]string{"Re-run the command; removal is idempotent and will continue where it stopped"})
	}

	printer.Success("Removed %s\n", keyCount(removed))
	return nil
}
