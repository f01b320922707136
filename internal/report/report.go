// Package report renders pool statistics and load-test results as tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/utkarsh5026/dialogrelay/pool"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// FormatNumber formats an integer with comma separators.
func FormatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// FormatLatency formats a duration in the most appropriate unit.
func FormatLatency(d time.Duration) string {
	if d == 0 {
		return "0"
	}

	ns := d.Nanoseconds()
	switch {
	case ns < 1_000:
		return fmt.Sprintf("%dns", ns)
	case ns < 1_000_000:
		return fmt.Sprintf("%.1fµs", float64(ns)/1_000)
	case ns < 1_000_000_000:
		return fmt.Sprintf("%.2fms", float64(ns)/1_000_000)
	default:
		return fmt.Sprintf("%.2fs", float64(ns)/1_000_000_000)
	}
}

// PoolStats writes a one-table summary of s under a heading.
func PoolStats(w io.Writer, title string, s pool.Stats) error {
	_, _ = bold.Fprintln(w, title)

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")

	rows := [][2]string{
		{"Workers", fmt.Sprintf("%d (min %d, max %d)", s.Workers, s.Min, s.Max)},
		{"Active", FormatNumber(s.Active)},
		{"Queued", FormatNumber(s.Queued)},
		{"Load", loadColor(s.LoadRatio()).Sprintf("%.2f", s.LoadRatio())},
		{"Completed", FormatNumber(s.Completed)},
		{"Avg task", fmt.Sprintf("%.2fms", s.AvgTaskMs())},
		{"Min task", fmt.Sprintf("%dms", s.MinTaskMs)},
		{"Max task", fmt.Sprintf("%dms", s.MaxTaskMs)},
		{"Workers started", FormatNumber(s.Started)},
		{"Workers retired", FormatNumber(s.Retired)},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return fmt.Errorf("report: append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

func loadColor(ratio float64) *color.Color {
	switch {
	case ratio > 0.8:
		return red
	case ratio > 0.5:
		return yellow
	default:
		return green
	}
}
