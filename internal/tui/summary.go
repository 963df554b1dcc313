package tui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"tinypng/internal/workflow"
)

type SummaryRow struct {
	Label string
	Value string
}

// Totals aggregates a finished batch.
type Totals struct {
	Items       int
	Complete    int
	Failed      int
	Pending     int
	BytesBefore int64
	BytesAfter  int64
}

// Saved is the number of bytes removed across completed items.
func (t Totals) Saved() int64 {
	return t.BytesBefore - t.BytesAfter
}

// Summarize counts items by outcome and sums sizes of completed ones.
func Summarize(items []workflow.WorkItem) Totals {
	totals := Totals{Items: len(items)}
	for _, item := range items {
		switch s := item.State.(type) {
		case workflow.Complete:
			totals.Complete++
			totals.BytesBefore += s.BytesBefore
			totals.BytesAfter += s.BytesAfter
		case workflow.Failed:
			totals.Failed++
		default:
			totals.Pending++
		}
	}
	return totals
}

// Rows renders totals for RenderSummary.
func (t Totals) Rows() []SummaryRow {
	rows := []SummaryRow{
		{Label: "Images", Value: fmt.Sprintf("%d", t.Items)},
		{Label: "Compressed", Value: fmt.Sprintf("%d", t.Complete)},
		{Label: "Failed", Value: fmt.Sprintf("%d", t.Failed)},
	}
	if t.Pending > 0 {
		rows = append(rows, SummaryRow{Label: "Unfinished", Value: fmt.Sprintf("%d", t.Pending)})
	}
	if t.Complete > 0 {
		saved := fmt.Sprintf("%s (%s → %s)", FormatBytes(t.Saved()), FormatBytes(t.BytesBefore), FormatBytes(t.BytesAfter))
		if t.BytesBefore > 0 {
			saved += fmt.Sprintf(" %.1f%%", float64(t.Saved())*100/float64(t.BytesBefore))
		}
		rows = append(rows, SummaryRow{Label: "Saved", Value: saved})
	}
	return rows
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, utf8.RuneCountInString(row.Label))
		valueWidth = max(valueWidth, utf8.RuneCountInString(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// FormatBytes renders n with a binary unit, e.g. "1.5 KiB".
func FormatBytes(n int64) string {
	const unit = 1024
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < unit {
		return fmt.Sprintf("%s%d B", sign, n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %ciB", sign, float64(n)/float64(div), "KMGTPE"[exp])
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
