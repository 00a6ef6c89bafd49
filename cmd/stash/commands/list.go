package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/stash/internal/printer"
	"github.com/dyluth/stash/pkg/stash"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored form keys in the prefix namespace",
	Long: `List every key stored under the configured prefix, with the size of its
stored value.

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

type listEntry struct {
	Key  string `json:"key"`
	Size int    `json:"size"`
}

func runList(cmd *cobra.Command, args []string) error {
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

	entries := make([]listEntry, 0, len(keys))
	for _, key := range keys {
		v, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		entries = append(entries, listEntry{Key: key, Size: len(v)})
	}

	if listJSON {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(out))
		return nil
	}

	if len(entries) == 0 {
		printer.Info("No keys under prefix %q\n", prefix)
		return nil
	}

	for _, e := range entries {
		printer.Info("%s  (%d bytes)\n", strings.TrimPrefix(e.Key, prefix), e.Size)
	}
	printer.Info("%d key(s)\n", len(entries))
	return nil
}

// keyCount formats a count for the summary lines shared by subcommands.
func keyCount(n int) string {
	if n == 1 {
		return "1 key"
	}
	return fmt.Sprintf("%d keys", n)
}
