package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/replay"
)

// #region replay

type replayFlags struct {
	tier1, tier2, tier3 float64
	renormalize         bool
	threshold           float64
	runID               string
	last                int
	fixture             string
	export              string
}

func newReplayCommand(flags *globalFlags) *cobra.Command {
	rf := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rescore stored evaluations under alternative weights without calling the judge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rf.fixture != "" {
				return runFixture(cmd, flags, rf)
			}

			a, ctx, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := replay.Config{Trust: a.cfg.Trust, Threshold: rf.threshold}
			if cmd.Flags().Changed("tier1") || cmd.Flags().Changed("tier2") || cmd.Flags().Changed("tier3") {
				cfg.Trust.Weights = evaluation.Weights{Tier1: rf.tier1, Tier2: rf.tier2, Tier3: rf.tier3}
			}
			if cmd.Flags().Changed("renormalize") {
				cfg.Trust.Renormalize = rf.renormalize
			}
			if err := cfg.Trust.Validate(); err != nil {
				return fmt.Errorf("%w: %v", evaluation.ErrValidation, err)
			}

			var evs []evaluation.Evaluation
			if rf.runID != "" {
				evs, err = a.store.ListByRun(ctx, rf.runID)
			} else {
				evs, err = a.store.ListRecent(ctx, rf.last)
			}
			if err != nil {
				return err
			}

			if rf.export != "" {
				desc := fmt.Sprintf("%d evaluations replayed under %.2f/%.2f/%.2f renormalize=%v",
					len(evs), cfg.Trust.Weights.Tier1, cfg.Trust.Weights.Tier2, cfg.Trust.Weights.Tier3, cfg.Trust.Renormalize)
				if err := replay.WriteFixture(rf.export, replay.NewFixture(desc, evs, cfg)); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "wrote %s\n", rf.export)
				return nil
			}

			results := replay.Replay(evs, cfg)
			return printReplay(a, results, replay.Summarize(results, cfg))
		},
	}
	cmd.Flags().Float64Var(&rf.tier1, "tier1", 0.25, "tier 1 weight")
	cmd.Flags().Float64Var(&rf.tier2, "tier2", 0.55, "tier 2 weight")
	cmd.Flags().Float64Var(&rf.tier3, "tier3", 0.20, "tier 3 weight")
	cmd.Flags().BoolVar(&rf.renormalize, "renormalize", false, "spread the tier 3 weight over tiers 1-2 when unreviewed")
	cmd.Flags().Float64Var(&rf.threshold, "threshold", 70, "pass line used to count flips")
	cmd.Flags().StringVar(&rf.runID, "run", "", "replay one run instead of the most recent evaluations")
	cmd.Flags().IntVar(&rf.last, "last", 100, "number of most recent evaluations to replay")
	cmd.Flags().StringVar(&rf.fixture, "fixture", "", "replay a fixture file and compare against its expected results")
	cmd.Flags().StringVar(&rf.export, "export", "", "freeze the selected evaluations and their replay outcome into a fixture file")
	return cmd
}

// runFixture replays a fixture and fails if any outcome differs.
func runFixture(cmd *cobra.Command, flags *globalFlags, rf *replayFlags) error {
	f, err := replay.LoadFixture(rf.fixture)
	if err != nil {
		return err
	}
	cfg := f.Config.ToConfig()
	results := replay.Replay(f.Evaluations, cfg)

	a := &app{out: cmd.OutOrStdout(), jsonOut: flags.jsonOut}
	if err := printReplay(a, results, replay.Summarize(results, cfg)); err != nil {
		return err
	}

	if len(results) != len(f.ExpectedResults) {
		return fmt.Errorf("fixture %s: expected %d results, got %d", rf.fixture, len(f.ExpectedResults), len(results))
	}
	mismatches := 0
	for i, want := range f.ExpectedResults {
		got := results[i]
		if got.EvaluationID != want.EvaluationID || got.Action != want.Action ||
			got.NewScore != want.NewScore || got.Flipped != want.Flipped {
			mismatches++
			fmt.Fprintf(cmd.ErrOrStderr(), "MISMATCH %s: expected %s/%.2f/%v, got %s/%.2f/%v\n",
				want.EvaluationID, want.Action, want.NewScore, want.Flipped, got.Action, got.NewScore, got.Flipped)
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("fixture %s: %d of %d results differ", rf.fixture, mismatches, len(results))
	}
	return nil
}

func printReplay(a *app, results []replay.Result, summary replay.Summary) error {
	if a.jsonOut {
		if results == nil {
			results = []replay.Result{}
		}
		return printJSON(a.out, map[string]any{"results": results, "summary": summary})
	}

	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{r.EvaluationID, string(r.Status), string(r.Action), "-", "-", "-", ""}
		if r.Action == replay.ActionRescored {
			rows[i][3] = fmt.Sprintf("%.2f", r.OldScore)
			rows[i][4] = fmt.Sprintf("%.2f", r.NewScore)
			rows[i][5] = fmt.Sprintf("%+.2f", r.Delta)
		}
		if r.Flipped {
			rows[i][6] = "FLIP"
		}
	}
	if err := renderRows(a.out, []string{"Evaluation", "Status", "Action", "Old", "New", "Delta", ""}, rows); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n%d evaluations: %d rescored, %d skipped | mean %.2f -> %.2f (%+.2f) | max |delta| %.2f | %d promoted, %d demoted\n",
		summary.Total, summary.Rescored, summary.Skipped, summary.MeanOld, summary.MeanNew,
		summary.MeanDelta, summary.MaxAbsDelta, summary.Promoted, summary.Demoted)
	return nil
}

// #endregion replay
