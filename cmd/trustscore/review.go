package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region queue

func newQueueCommand(flags *globalFlags) *cobra.Command {
	queue := &cobra.Command{Use: "queue", Short: "Inspect and claim human review items"}

	queue.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued items in dequeue order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.pipeline.PendingReviews(ctx)
			if err != nil {
				return err
			}
			stats, err := a.pipeline.QueueStats(ctx)
			if err != nil {
				return err
			}
			if a.jsonOut {
				if items == nil {
					items = []evaluation.ReviewQueueItem{}
				}
				return printJSON(a.out, map[string]any{"items": items, "stats": stats})
			}

			rows := make([][]string, len(items))
			for i, it := range items {
				claimed := "-"
				if it.ClaimedAt != nil {
					claimed = formatTime(*it.ClaimedAt)
				}
				rows[i] = []string{it.EvaluationID, strconv.Itoa(it.Priority), it.Reason, formatTime(it.EnqueuedAt), claimed}
			}
			if err := renderRows(a.out, []string{"Evaluation", "Priority", "Reason", "Enqueued", "Claimed"}, rows); err != nil {
				return err
			}

			priorities := make([]int, 0, len(stats.ByPriority))
			for p := range stats.ByPriority {
				priorities = append(priorities, p)
			}
			sort.Ints(priorities)
			fmt.Fprintf(a.out, "\n%d queued, %d claimed", stats.Total, stats.Claimed)
			for _, p := range priorities {
				fmt.Fprintf(a.out, " | p%d=%d", p, stats.ByPriority[p])
			}
			fmt.Fprintln(a.out)
			return nil
		},
	})

	queue.AddCommand(&cobra.Command{
		Use:   "next",
		Short: "Claim the most urgent review item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := a.pipeline.DequeueNext(ctx)
			if err != nil {
				return err
			}
			if item == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "review queue is empty")
				return nil
			}
			ev, err := a.pipeline.Get(ctx, item.EvaluationID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(a.out, map[string]any{"item": item, "evaluation": ev})
			}
			fmt.Fprintf(a.out, "claimed %s (priority %d: %s)\n\n", item.EvaluationID, item.Priority, item.Reason)
			fmt.Fprintf(a.out, "prompt:\n%s\n\noutput:\n%s\n\n", ev.Request.Prompt, ev.Request.ModelOutput)
			return printEvaluations(a.out, []evaluation.Evaluation{ev})
		},
	})

	queue.AddCommand(&cobra.Command{
		Use:   "release <evaluation-id>",
		Short: "Return a claimed item to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.ReleaseReview(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "released %s\n", args[0])
			return nil
		},
	})
	return queue
}

// #endregion queue

// #region review

func newReviewCommand(flags *globalFlags) *cobra.Command {
	var verdict, notes, reviewer, corrected string
	cmd := &cobra.Command{
		Use:   "review <evaluation-id>",
		Short: "Resolve a queued evaluation with a reviewer verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := evaluation.ParseVerdict(verdict)
			if err != nil {
				return err
			}
			a, ctx, err := openPipeline(cmd, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.pipeline.ResolveReview(ctx, args[0], v, notes, reviewer, corrected)
			if err != nil {
				return err
			}
			return a.printEvaluations(ev)
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "APPROVED, NEEDS_REVISION or REJECTED")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id")
	cmd.Flags().StringVar(&corrected, "corrected-output", "", "corrected model output, if any")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

// #endregion review
