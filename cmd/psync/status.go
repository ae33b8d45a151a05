package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planora/planora-sync/internal/conflict"
	"github.com/planora/planora-sync/internal/outbox"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Long: `Summarize the local side of the sync engine without connecting.

Reports the device id, queued local writes awaiting push, and conflict
queue totals, all read from the local state directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		deviceID, err := outbox.EnsureDeviceID(store)
		if err != nil {
			return err
		}
		cmd.Printf("Device:   %s\n", deviceID)
		cmd.Printf("Data dir: %s\n", viper.GetString("data.dir"))

		resolver, err := conflict.NewResolver(store, nil)
		if err != nil {
			return err
		}
		stats := resolver.Stats()
		cmd.Printf("Conflicts: %d pending, %d detected, %d resolved\n",
			len(resolver.Pending()), stats.Detected, stats.Resolved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
