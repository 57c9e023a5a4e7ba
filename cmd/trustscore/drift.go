package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/drift"
	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region drift

func newDriftCommand(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{Use: "drift", Short: "Check and inspect drift of the trust score series"}

	root.AddCommand(&cobra.Command{
		Use:   "check [metric]",
		Short: "Run a drift check now (default metric trust_score)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			metric := metricArg(args)
			alert := a.pipeline.CheckDrift(ctx, metric)
			if a.jsonOut {
				return printJSON(a.out, map[string]any{"metric_name": metric, "alert": alert})
			}
			if alert == nil {
				fmt.Fprintf(a.out, "%s: no drift\n", metric)
				return nil
			}
			fmt.Fprintln(a.out, alert.Message)
			return printAlerts(a.out, []evaluation.DriftAlert{*alert})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "summary [metric]",
		Short: "Show baseline, latest value and stability index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.pipeline.DriftSummary(ctx, metricArg(args))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(a.out, s)
			}
			baseline := "-"
			if s.HasBaseline {
				baseline = fmt.Sprintf("%.2f", s.Baseline)
			}
			return renderRows(a.out,
				[]string{"Metric", "Points", "Baseline", "Latest", "Latest At", "DSI"},
				[][]string{{s.MetricName, strconv.Itoa(s.Points), baseline, fmt.Sprintf("%.2f", s.Latest),
					formatTime(s.LatestAt), fmt.Sprintf("%.2f", s.StabilityIndex)}})
		},
	})

	var (
		active   bool
		severity string
		since    time.Duration
	)
	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "List drift alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sev := evaluation.DriftSeverity(strings.ToUpper(severity))
			if sev != "" && sev != evaluation.DriftWarning && sev != evaluation.DriftCritical {
				return fmt.Errorf("%w: unknown severity %q", evaluation.ErrValidation, severity)
			}
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var list []evaluation.DriftAlert
			if active {
				list, err = a.pipeline.ActiveAlerts(ctx)
			} else {
				if since <= 0 {
					since = a.cfg.Drift.Window
				}
				list, err = a.pipeline.Alerts(ctx, time.Now().Add(-since), sev)
			}
			if err != nil {
				return err
			}
			if active && sev != "" {
				filtered := list[:0]
				for _, al := range list {
					if al.Severity == sev {
						filtered = append(filtered, al)
					}
				}
				list = filtered
			}
			if a.jsonOut {
				if list == nil {
					list = []evaluation.DriftAlert{}
				}
				return printJSON(a.out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no alerts")
				return nil
			}
			return printAlerts(a.out, list)
		},
	}
	alerts.Flags().BoolVar(&active, "active", false, "only unacknowledged alerts")
	alerts.Flags().StringVar(&severity, "severity", "", "WARNING or CRITICAL")
	alerts.Flags().DurationVar(&since, "since", 0, "look-back window (default: drift window)")
	root.AddCommand(alerts)

	root.AddCommand(&cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge a drift alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.Acknowledge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "acknowledged %s\n", args[0])
			return nil
		},
	})
	return root
}

func metricArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return drift.MetricTrustScore
}

// #endregion drift

// #region dashboard

func newDashboardCommand(flags *globalFlags) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize evaluations, alerts and the review queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := openPipeline(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if window <= 0 {
				window = a.cfg.Drift.Window
			}
			d, err := a.pipeline.Dashboard(ctx, window)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(a.out, d)
			}

			rows := [][]string{
				{"window", window.String()},
				{"evaluations", strconv.Itoa(d.Evaluations.Total)},
				{"average trust score", fmt.Sprintf("%.2f (%d scored)", d.Evaluations.AverageTrustScore, d.Evaluations.Scored)},
			}
			statuses := make([]string, 0, len(d.Evaluations.ByStatus))
			for s := range d.Evaluations.ByStatus {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				rows = append(rows, []string{"  " + s, strconv.Itoa(d.Evaluations.ByStatus[evaluation.Status(s)])})
			}
			rows = append(rows,
				[]string{"drift alerts", fmt.Sprintf("%d (%d critical)", d.RecentAlerts, d.CriticalAlerts)},
				[]string{"active alerts", strconv.Itoa(d.ActiveAlerts)},
				[]string{"review queue", fmt.Sprintf("%d (%d claimed)", d.ReviewQueue.Total, d.ReviewQueue.Claimed)},
				[]string{"stability index", fmt.Sprintf("%.2f", d.StabilityIndex)},
			)
			return renderRows(a.out, []string{"Metric", "Value"}, rows)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "trailing window (default: drift window)")
	return cmd
}

// #endregion dashboard
