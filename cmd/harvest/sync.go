package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync cycle (upload, then snapshot)",
	Long: `Run one full sync cycle against the remote service:

  1. Drain the outbox: upload queued mutations oldest first
  2. Download a fresh snapshot of the authoritative dataset
  3. Re-apply any still-queued mutations on top

Mutations that fail validation stay queued and are reported; an
authentication failure aborts the cycle immediately.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		eng, err := a.buildEngine(nil, nil, nil)
		if err != nil {
			fatalf("%v", err)
		}

		result, err := eng.RunSync(cmd.Context())
		if result != nil {
			fmt.Printf("Uploaded:  %d\n", result.Uploaded)
			fmt.Printf("Failed:    %d\n", result.Failed)
			fmt.Printf("Remaining: %d\n", result.Remaining)
			for _, f := range result.Failures {
				kind := "error"
				if f.Validation {
					kind = "rejected"
				}
				fmt.Printf("  #%d %s (%s): %s\n", f.MutationID, f.Type, kind, f.Reason)
			}
			if err == nil {
				fmt.Printf("Snapshot:  %d records (%d replayed)\n", result.SnapshotRecords, result.Replayed)
				fmt.Printf("Took:      %v\n", result.Duration.Round(time.Millisecond))
			}
		}
		if err != nil {
			fatalf("sync failed: %v", err)
		}
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Download a snapshot without uploading first",
	Long: `Download a fresh snapshot of the authoritative dataset and rebuild
the local store from it. Queued mutations are not uploaded, but their
placeholder effects are re-applied on top of the rebuilt data.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		eng, err := a.buildEngine(nil, nil, nil)
		if err != nil {
			fatalf("%v", err)
		}

		stats, err := eng.RunSnapshot(cmd.Context())
		if err != nil {
			fatalf("snapshot failed: %v", err)
		}
		fmt.Printf("Snapshot: %d records (%d replayed) in %v\n",
			stats.Records, stats.Replayed, stats.Duration.Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(snapshotCmd)
}
