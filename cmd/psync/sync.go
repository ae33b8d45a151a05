package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planora/planora-sync/internal/entity"
)

var syncTable string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot full sync",
	Long: `Fetch every table from the server once and report what changed.

Without flags this refreshes all tables in dependency order. Use --table
to re-fetch a single table.

Examples:
  psync sync
  psync sync --table assignments`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.close()

		if syncTable != "" {
			table := entity.Table(syncTable)
			if err := sess.engine.ForceSyncTable(ctx, table); err != nil {
				return err
			}
		} else {
			if err := sess.engine.RefreshAll(ctx); err != nil {
				return err
			}
		}

		// Push anything queued locally while we have the connection.
		pushed := sess.outbox.Flush(ctx)

		stats := sess.engine.Stats()
		cmd.Println("Sync complete:")
		for _, table := range entity.SubscribedTables() {
			ts := stats.Tables[table]
			if syncTable != "" && string(table) != syncTable {
				continue
			}
			line := fmt.Sprintf("  %-20s %d records", table, ts.Cached)
			if ts.FetchErrors > 0 {
				line += fmt.Sprintf(" (%d fetch errors)", ts.FetchErrors)
			}
			if ts.DecodeFailures > 0 {
				line += fmt.Sprintf(" (%d dropped rows)", ts.DecodeFailures)
			}
			cmd.Println(line)
		}
		if pushed > 0 {
			cmd.Printf("Pushed %d queued local changes\n", pushed)
		}
		if stats.Conflicts.Detected > 0 {
			cmd.Printf("Conflicts: %d detected, %d resolved\n",
				stats.Conflicts.Detected, stats.Conflicts.Resolved)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncTable, "table", "", "sync only this table")
	rootCmd.AddCommand(syncCmd)
}
