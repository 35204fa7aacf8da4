package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrosync/harvest/internal/model"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the outbox of unconfirmed mutations",
	Long: `Inspect and modify the durable queue of mutations awaiting upload.

Mutations queue in creation order and upload oldest first. Adding a
mutation immediately projects its optimistic effect into the local
store, so reads reflect it before any network round trip.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations, oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		muts, err := a.queue.List(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if len(muts) == 0 {
			fmt.Println("Queue is empty")
			return
		}
		for _, m := range muts {
			fmt.Printf("#%d  %-16s %s  %s\n", m.ID, m.Type,
				m.CreatedAt.Local().Format("2006-01-02 15:04:05"), string(m.Payload))
		}
	},
}

var queueAddCrateCmd = &cobra.Command{
	Use:   "add-crate <code>",
	Short: "Queue an ensure-crate mutation for a human-entered code",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		payload := &model.EnsureCratePayload{Code: args[0]}
		if err := payload.Validate(); err != nil {
			fatalf("%v", err)
		}
		m, err := a.queue.Enqueue(cmd.Context(), model.MutationEnsureCrate, payload)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Queued ensure-crate #%d for code %q\n", m.ID, args[0])
	},
}

var queueAddPickCmd = &cobra.Command{
	Use:   "add-pick",
	Short: "Queue a create-pick mutation (crate-to-plot assignment)",
	Run: func(cmd *cobra.Command, args []string) {
		plotID, _ := cmd.Flags().GetInt64("plot")
		crateCode, _ := cmd.Flags().GetString("crate")
		weight, _ := cmd.Flags().GetFloat64("weight")
		reserved, _ := cmd.Flags().GetBool("reserved")
		notes, _ := cmd.Flags().GetString("notes")
		tagNames, _ := cmd.Flags().GetStringSlice("tag")

		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		payload := &model.CreatePickPayload{
			PickKey:   model.NewLocalKey(),
			PlotID:    plotID,
			CrateCode: crateCode,
			WeightKg:  weight,
			Reserved:  reserved,
			Notes:     notes,
			CreatedAt: time.Now(),
		}
		for _, name := range tagNames {
			payload.Tags = append(payload.Tags, model.TagRef{Name: name})
		}
		if err := payload.Validate(); err != nil {
			fatalf("%v", err)
		}
		m, err := a.queue.Enqueue(cmd.Context(), model.MutationCreatePick, payload)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Queued create-pick #%d (crate %q, plot %d)\n", m.ID, crateCode, plotID)
	},
}

var queueAddActivityCmd = &cobra.Command{
	Use:   "add-activity",
	Short: "Queue a create-activity mutation (timed field activity)",
	Run: func(cmd *cobra.Command, args []string) {
		plotID, _ := cmd.Flags().GetInt64("plot")
		treeID, _ := cmd.Flags().GetInt64("tree")
		typeID, _ := cmd.Flags().GetInt64("type")
		duration, _ := cmd.Flags().GetDuration("duration")
		notes, _ := cmd.Flags().GetString("notes")

		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		payload := &model.CreateActivityPayload{
			ActivityKey:  model.NewLocalKey(),
			PlotID:       plotID,
			TreeID:       treeID,
			TypeID:       typeID,
			StartedAt:    time.Now(),
			DurationSecs: int64(duration.Seconds()),
			Notes:        notes,
		}
		if err := payload.Validate(); err != nil {
			fatalf("%v", err)
		}
		m, err := a.queue.Enqueue(cmd.Context(), model.MutationCreateActivity, payload)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Queued create-activity #%d (plot %d, type %d)\n", m.ID, plotID, typeID)
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Discard a queued mutation and retract its local effects",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatalf("invalid mutation id %q", args[0])
		}

		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		if err := a.queue.Remove(cmd.Context(), id); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Discarded mutation #%d\n", id)
	},
}

func init() {
	queueAddPickCmd.Flags().Int64("plot", 0, "Plot id the crate is assigned to (required)")
	queueAddPickCmd.Flags().String("crate", "", "Human-entered crate code (required)")
	queueAddPickCmd.Flags().Float64("weight", 0, "Picked weight in kilograms")
	queueAddPickCmd.Flags().Bool("reserved", false, "Mark the pick as reserved")
	queueAddPickCmd.Flags().String("notes", "", "Free-form notes")
	queueAddPickCmd.Flags().StringSlice("tag", nil, "Tag name to attach (repeatable)")
	_ = queueAddPickCmd.MarkFlagRequired("plot")
	_ = queueAddPickCmd.MarkFlagRequired("crate")

	queueAddActivityCmd.Flags().Int64("plot", 0, "Plot id the activity happened on (required)")
	queueAddActivityCmd.Flags().Int64("tree", 0, "Tree id, when the activity targets one tree")
	queueAddActivityCmd.Flags().Int64("type", 0, "Activity type id (required)")
	queueAddActivityCmd.Flags().Duration("duration", 0, "Activity duration (e.g. 45m)")
	queueAddActivityCmd.Flags().String("notes", "", "Free-form notes")
	_ = queueAddActivityCmd.MarkFlagRequired("plot")
	_ = queueAddActivityCmd.MarkFlagRequired("type")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAddCrateCmd)
	queueCmd.AddCommand(queueAddPickCmd)
	queueCmd.AddCommand(queueAddActivityCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	rootCmd.AddCommand(queueCmd)
}
