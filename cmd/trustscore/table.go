package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region table

// newTable creates a markdown-style table with left-aligned cells.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func renderRows(w io.Writer, headers []string, rows [][]string) error {
	table := newTable(w, headers...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion table

// #region rows

var evaluationHeaders = []string{"ID", "Run", "Model", "Status", "Trust", "CI", "Tier1", "Tier2", "Tier3", "Created"}

func evaluationRow(ev evaluation.Evaluation) []string {
	row := []string{ev.ID, ev.RunID, ev.Request.ModelName, string(ev.Status), "-", "-", "-", "-", "-", formatTime(ev.CreatedAt)}
	if ev.TrustScore != nil {
		trust := fmt.Sprintf("%.2f", ev.TrustScore.Overall)
		if ev.TrustScore.Provisional {
			trust += "*"
		}
		row[4] = trust
		row[5] = fmt.Sprintf("%.2f-%.2f", ev.TrustScore.ConfidenceLow, ev.TrustScore.ConfidenceHigh)
	}
	if ev.Tier1 != nil {
		row[6] = fmt.Sprintf("%.0f", ev.Tier1.Score)
	}
	if ev.Tier2 != nil {
		row[7] = fmt.Sprintf("%.0f", ev.Tier2.Score)
	}
	if ev.Tier3 != nil {
		row[8] = string(ev.Tier3.Verdict)
	}
	if ev.Status == evaluation.StatusFailed {
		row[4] = string(ev.ErrorKind)
	}
	return row
}

func printEvaluations(w io.Writer, evs []evaluation.Evaluation) error {
	rows := make([][]string, len(evs))
	for i, ev := range evs {
		rows[i] = evaluationRow(ev)
	}
	return renderRows(w, evaluationHeaders, rows)
}

var alertHeaders = []string{"ID", "Metric", "Severity", "Latest", "Baseline", "Delta", "Triggered", "Ack"}

func printAlerts(w io.Writer, alerts []evaluation.DriftAlert) error {
	rows := make([][]string, len(alerts))
	for i, a := range alerts {
		rows[i] = []string{
			a.ID, a.MetricName, string(a.Severity),
			fmt.Sprintf("%.2f", a.Latest), fmt.Sprintf("%.2f", a.Baseline), fmt.Sprintf("%.2f", a.AbsoluteDelta),
			formatTime(a.TriggeredAt), fmt.Sprintf("%v", a.Acknowledged),
		}
	}
	return renderRows(w, alertHeaders, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// #endregion rows
