package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/api"
	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region serve

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := openPipeline(cmd, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			warnOfflineJudge(ctx, a.cfg.Judge)
			if n, err := a.pipeline.RequeueStranded(ctx); err != nil {
				return err
			} else if n > 0 {
				clog.FromContext(ctx).With("restored", n).Warn("Restored review queue items")
			}
			clog.FromContext(ctx).With("db", a.cfg.DBPath).With("judge", a.cfg.Judge.Provider).
				With("archive", a.cfg.Archive.Enabled()).Info("trustscore ready")
			return api.New(ctx, a.pipeline, a.cfg.BatchConcurrency).Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// #endregion serve

// #region submit

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Evaluate one request, or an array of requests, read from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := readRequests(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, ctx, err := openPipeline(cmd, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(reqs) == 1 {
				ev, err := a.pipeline.Submit(ctx, reqs[0])
				if ev.ID != "" {
					if perr := a.printEvaluations(ev); perr != nil {
						return perr
					}
				}
				return err
			}

			results := a.pipeline.SubmitBatch(ctx, reqs, a.cfg.BatchConcurrency)
			var (
				evs    []evaluation.Evaluation
				failed int
			)
			for i, r := range results {
				if r.Evaluation.ID != "" {
					evs = append(evs, r.Evaluation)
				}
				if r.Err != nil {
					failed++
					clog.FromContext(ctx).With("index", i).Warnf("request failed: %v", r.Err)
				}
			}
			if err := a.printEvaluations(evs...); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(reqs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	return cmd
}

// readRequests accepts a single request object or an array of them.
func readRequests(path string, stdin io.Reader) ([]evaluation.Request, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no request given", evaluation.ErrValidation)
	}
	if raw[0] == '[' {
		var reqs []evaluation.Request
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("%w: parse requests: %v", evaluation.ErrValidation, err)
		}
		if len(reqs) == 0 {
			return nil, fmt.Errorf("%w: empty request array", evaluation.ErrValidation)
		}
		return reqs, nil
	}
	var req evaluation.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: parse request: %v", evaluation.ErrValidation, err)
	}
	return []evaluation.Request{req}, nil
}

// #endregion submit

// #region get

func newGetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <evaluation-id>",
		Short: "Show one evaluation and its status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.pipeline.Get(ctx, args[0])
			if err != nil {
				return err
			}
			transitions, err := a.pipeline.Transitions(ctx, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(a.out, map[string]any{"evaluation": ev, "transitions": transitions})
			}

			if err := printEvaluations(a.out, []evaluation.Evaluation{ev}); err != nil {
				return err
			}
			if ev.Tier1 != nil && len(ev.Tier1.Violations) > 0 {
				fmt.Fprintln(a.out)
				rows := make([][]string, len(ev.Tier1.Violations))
				for i, v := range ev.Tier1.Violations {
					rows[i] = []string{string(v.Kind), string(v.Severity), fmt.Sprintf("%.0f", v.Penalty), v.Detail}
				}
				if err := renderRows(a.out, []string{"Violation", "Severity", "Penalty", "Detail"}, rows); err != nil {
					return err
				}
			}
			if ev.Tier2 != nil {
				fmt.Fprintln(a.out)
				rows := make([][]string, 0, len(evaluation.Dimensions))
				for _, d := range evaluation.Dimensions {
					s := ev.Tier2.Dimensions[d]
					rows = append(rows, []string{string(d), fmt.Sprintf("%.0f", s.Score), s.Reasoning})
				}
				if err := renderRows(a.out, []string{"Dimension", "Score", "Reasoning"}, rows); err != nil {
					return err
				}
			}

			fmt.Fprintln(a.out)
			rows := make([][]string, len(transitions))
			for i, t := range transitions {
				rows[i] = []string{formatTime(t.CreatedAt), t.FromStatus, t.ToStatus, t.Reason}
			}
			return renderRows(a.out, []string{"Time", "From", "To", "Reason"}, rows)
		},
	}
}

// #endregion get

// #region run

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <run-id>",
		Short: "List the evaluations of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			evs, err := a.pipeline.ListByRun(ctx, args[0])
			if err != nil {
				return err
			}
			if len(evs) == 0 && !a.jsonOut {
				fmt.Fprintf(cmd.ErrOrStderr(), "no evaluations for run %s\n", args[0])
				return nil
			}
			return a.printEvaluations(evs...)
		},
	}
}

// #endregion run

func (a *app) printEvaluations(evs ...evaluation.Evaluation) error {
	if a.jsonOut {
		if len(evs) == 1 {
			return printJSON(a.out, evs[0])
		}
		if evs == nil {
			evs = []evaluation.Evaluation{}
		}
		return printJSON(a.out, evs)
	}
	return printEvaluations(a.out, evs)
}
