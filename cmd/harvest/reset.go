package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the local store, including queued mutations",
	Long: `Delete all local data: server records, placeholders, metadata and the
entire outbox. Queued mutations that were never uploaded are lost.
Requires --force.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fatalf("reset discards queued mutations; re-run with --force to confirm")
		}

		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		depth, err := a.queue.Depth(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if err := a.db.ClearAll(cmd.Context()); err != nil {
			fatalf("%v", err)
		}
		if depth > 0 {
			fmt.Printf("Store cleared (%d queued mutations discarded)\n", depth)
		} else {
			fmt.Println("Store cleared")
		}
	},
}

func init() {
	resetCmd.Flags().Bool("force", false, "Confirm destructive reset")
	rootCmd.AddCommand(resetCmd)
}
