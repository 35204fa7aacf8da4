package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrosync/harvest/internal/dashboard"
	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and queue status",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		ctx := cmd.Context()

		depth, err := a.queue.Depth(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		var lastSnapshot string
		var counts = make(map[string]int, len(model.ServerCollections))
		err = a.db.WithTx(ctx, func(tx *store.Tx) error {
			v, err := tx.GetMeta(model.MetaLastSnapshotAt)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			lastSnapshot = v
			for _, col := range model.ServerCollections {
				n, err := tx.Count(col)
				if err != nil {
					return err
				}
				counts[col] = n
			}
			return nil
		})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("Store:         %s\n", a.db.Path())
		if lastSnapshot == "" {
			fmt.Println("Last snapshot: never")
		} else {
			fmt.Printf("Last snapshot: %s\n", lastSnapshot)
		}
		fmt.Printf("Queued:        %d\n", depth)
		for _, col := range model.ServerCollections {
			fmt.Printf("  %-15s %d\n", col, counts[col])
		}
	},
}

// storeStatus backs the dashboard's /status endpoint with live store
// reads.
type storeStatus struct {
	db *store.DB
}

func (s *storeStatus) Status(ctx context.Context) (*dashboard.Status, error) {
	status := &dashboard.Status{}
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.CountMutations()
		if err != nil {
			return err
		}
		status.QueueDepth = n

		v, err := tx.GetMeta(model.MetaLastSnapshotAt)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			status.LastSnapshotAt = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
