package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	offlineworker "github.com/always-cache/offline-worker"
	"github.com/always-cache/offline-worker/background"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Pre-cache the shell in a new generation and activate it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd, offlineworker.TriggerInstall)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Delete stale generations of an installed shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd, offlineworker.TriggerActivate)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Revalidate the cached API entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd, offlineworker.TriggerSync)
	},
}

func init() {
	rootCmd.AddCommand(installCmd, activateCmd, syncCmd)
}

// runTrigger dispatches a single trigger against the configured store.
func runTrigger(cmd *cobra.Command, trigger offlineworker.Trigger) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := config.openStore(&log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	worker := offlineworker.New(config.workerConfig(store, &log.Logger))
	event := offlineworker.Event{Trigger: trigger, Tag: background.TagSyncSeries}
	if err := worker.Dispatch(cmd.Context(), event); err != nil {
		return err
	}
	worker.Wait()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", trigger, worker.Phase())
	return nil
}
