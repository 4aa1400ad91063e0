// Package report renders a standalone HTML summary of one pipeline run:
// a bar chart of per-detector event counts and the top-alert table. The
// file is written with a temp-file + atomic rename so a crash mid-write
// never leaves a truncated report behind.
package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/pipeline"
)

// WriteRunSummary renders the run report to path.
func WriteRunSummary(run *db.PipelineRun, sum *pipeline.Summary, path string) error {
	var buf bytes.Buffer
	if err := render(run, sum, &buf); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*.html")
	if err != nil {
		return fmt.Errorf("report: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("report: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

func render(run *db.PipelineRun, sum *pipeline.Summary, buf *bytes.Buffer) error {
	detectors := make([]string, 0, len(sum.DetectorCounts))
	for d := range sum.DetectorCounts {
		detectors = append(detectors, d)
	}
	sort.Strings(detectors)

	y := make([]opts.BarData, 0, len(detectors))
	for _, d := range detectors {
		y = append(y, opts.BarData{Value: sum.DetectorCounts[d]})
	}

	subtitle := fmt.Sprintf("run=%s status=%s window=%s..%s",
		sum.RunID, sum.Status,
		run.DateFrom.Format("2006-01-02"), run.DateTo.Format("2006-01-02"))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "RadianceFleet Run Summary", Width: "100%", Height: "560px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Events Created by Detector", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(detectors).
		AddSeries("events", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var chartBuf bytes.Buffer
	if err := page.Render(&chartBuf); err != nil {
		return fmt.Errorf("report: render chart: %w", err)
	}

	doc := chartBuf.String()
	extra := alertTable(sum) + driftBlock(sum) + stepTable(sum)
	if idx := strings.LastIndex(doc, "</body>"); idx >= 0 {
		doc = doc[:idx] + extra + doc[idx:]
	} else {
		doc += extra
	}

	_, err := buf.WriteString(doc)
	return err
}

func alertTable(sum *pipeline.Summary) string {
	var b strings.Builder
	b.WriteString(`<div style="margin:24px"><h2>Top Alerts</h2>`)
	if len(sum.TopAlerts) == 0 {
		b.WriteString("<p>No scored gap events in this window.</p></div>")
		return b.String()
	}

	b.WriteString(`<table border="1" cellpadding="6" cellspacing="0">`)
	b.WriteString("<tr><th>Gap Event</th><th>MMSI</th><th>Risk Score</th>" +
		"<th>Duration (h)</th><th>Corridor</th><th>Confidence</th></tr>")
	for _, a := range sum.TopAlerts {
		corridor := ""
		if a.Corridor != nil {
			corridor = *a.Corridor
		}
		confidence := ""
		if a.Confidence != nil {
			confidence = *a.Confidence
		}
		fmt.Fprintf(&b,
			"<tr><td>%d</td><td>%s</td><td>%.1f</td><td>%.1f</td><td>%s</td><td>%s</td></tr>",
			a.GapEventID, html.EscapeString(a.MMSI), a.RiskScore, a.DurationH,
			html.EscapeString(corridor), html.EscapeString(confidence))
	}
	b.WriteString("</table></div>")
	return b.String()
}

func driftBlock(sum *pipeline.Summary) string {
	if len(sum.DriftDisabled) == 0 {
		return ""
	}
	names := make([]string, len(sum.DriftDisabled))
	for i, d := range sum.DriftDisabled {
		names[i] = html.EscapeString(d)
	}
	return fmt.Sprintf(
		`<div style="margin:24px"><h2>Drift-Disabled Detectors</h2><p>%s</p></div>`,
		strings.Join(names, ", "))
}

func stepTable(sum *pipeline.Summary) string {
	var b strings.Builder
	b.WriteString(`<div style="margin:24px"><h2>Steps</h2>`)
	b.WriteString(`<table border="1" cellpadding="6" cellspacing="0">`)
	b.WriteString("<tr><th>Step</th><th>Status</th><th>Detail</th></tr>")
	for _, name := range sum.StepOrder {
		res := sum.Steps[name]
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(name), html.EscapeString(res.Status),
			html.EscapeString(res.Detail))
	}
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<p>Generated %s</p></div>", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
