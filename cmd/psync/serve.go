package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Run the sync engine in the foreground until interrupted.

The daemon subscribes to every table's change stream, performs the initial
full sync, watches the outbox for local writes to push, and keeps the
caches current as server-side changes arrive. Stop it with Ctrl-C or
SIGTERM; sign-out cleanup runs before exit.

Examples:
  psync serve
  PSYNC_LOG_FILE=/var/log/psync.log psync serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.engine.Initialize(ctx); err != nil {
			return err
		}
		if err := sess.outbox.Start(ctx); err != nil {
			return err
		}

		cmd.Printf("Sync engine running (status: %s). Press Ctrl-C to stop.\n",
			sess.engine.Status())
		<-ctx.Done()
		cmd.Println("Shutting down...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
