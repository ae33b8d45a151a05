package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planora/planora-sync/internal/conflict"
	"github.com/planora/planora-sync/internal/entity"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve the conflict queue",
	Long: `Work with conflicts detected between local and server edits.

The queue and resolution history persist in the local state database, so
these commands work offline. Use the subcommands to list what is pending,
drain the queue with the per-table strategies, or override the strategy a
table uses.

Examples:
  psync conflicts list
  psync conflicts resolve
  psync conflicts strategy courses use_local`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending conflicts and recent resolutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolver, err := conflict.NewResolver(store, nil)
		if err != nil {
			return err
		}

		pending := resolver.Pending()
		if len(pending) == 0 {
			cmd.Println("No pending conflicts")
		} else {
			cmd.Printf("Pending conflicts (%d):\n", len(pending))
			for _, c := range pending {
				cmd.Printf("  %s  %s/%s  [%s]\n", c.ID, c.Table, c.RecordID, c.Severity)
				for _, f := range c.Fields {
					cmd.Printf("    %-16s local=%v remote=%v\n", f.Field, f.Local, f.RemoteNew)
				}
			}
		}

		history := resolver.History()
		if len(history) > 0 {
			cmd.Printf("Recent resolutions (%d):\n", len(history))
			for _, rc := range history {
				cmd.Printf("  %s  %s/%s  via %s at %s\n",
					rc.Conflict.ID, rc.Conflict.Table, rc.Conflict.RecordID,
					rc.Resolution.Strategy, rc.Resolution.ResolvedAt.Format("2006-01-02 15:04:05"))
			}
		}

		stats := resolver.Stats()
		cmd.Printf("Totals: %d detected, %d resolved\n", stats.Detected, stats.Resolved)
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve every pending conflict with the configured strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolver, err := conflict.NewResolver(store, nil)
		if err != nil {
			return err
		}

		resolutions, err := resolver.ResolveAll()
		for _, res := range resolutions {
			cmd.Printf("Resolved %s/%s via %s\n", res.Table, res.RecordID, res.Strategy)
		}
		if err != nil {
			return fmt.Errorf("resolution stopped early: %w", err)
		}
		if len(resolutions) == 0 {
			cmd.Println("Nothing to resolve")
		}
		return nil
	},
}

var conflictsStrategyCmd = &cobra.Command{
	Use:   "strategy <table> <strategy>",
	Short: "Override the resolution strategy for a table",
	Long: `Set the strategy used when conflicts on a table are resolved.

Strategies: use_local, use_remote, last_write_wins, merge, user_choose.
The override persists across restarts.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := entity.Table(args[0])
		if !table.Valid() {
			return fmt.Errorf("unknown table: %s", args[0])
		}
		strategy := conflict.Strategy(args[1])

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolver, err := conflict.NewResolver(store, nil)
		if err != nil {
			return err
		}

		if err := resolver.SetStrategy(table, strategy); err != nil {
			return err
		}
		cmd.Printf("Strategy for %s set to %s\n", table, strategy)
		return nil
	},
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsStrategyCmd)
	rootCmd.AddCommand(conflictsCmd)
}
