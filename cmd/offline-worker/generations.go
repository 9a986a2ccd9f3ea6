package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/always-cache/offline-worker/lifecycle"
)

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "List the generations in the cache store",
	Long: `List the generations in the cache store in creation order,
marking the ones the configured version keeps on activation.`,
	RunE: runGenerations,
}

func init() {
	rootCmd.AddCommand(generationsCmd)
}

func runGenerations(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := config.openStore(&log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Keys(cmd.Context())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No generations found.")
		fmt.Fprintln(cmd.OutOrStdout(), "Run 'offline-worker install' to create them.")
		return nil
	}
	generations := lifecycle.NewGenerations(config.Prefix, config.Version)
	for _, name := range names {
		marker := "stale"
		if generations.Allowed(name) {
			marker = "current"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s\n", name, marker)
	}
	return nil
}
