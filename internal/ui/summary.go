package ui

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/history"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Summary totals one session.
type Summary struct {
	Sent      int
	Received  int
	Failed    int
	Abandoned int
	Bytes     int64
	Duration  time.Duration
}

// Speed is the average over the whole session.
func (s Summary) Speed() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

func (s Summary) status() string {
	switch {
	case s.Sent+s.Received == 0 && s.Failed+s.Abandoned == 0:
		return "Nothing transferred"
	case s.Failed+s.Abandoned == 0:
		return IconComplete + " Complete"
	default:
		return IconWarning + " Incomplete"
	}
}

// SummaryView renders the end-of-session table.
func SummaryView(s Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Session Summary")
	t.AppendRows([]table.Row{
		{"Status", s.status()},
		{"Sent", s.Sent},
		{"Received", s.Received},
		{"Failed", s.Failed},
		{"Abandoned", s.Abandoned},
		{"Total Size", utils.FormatSize(s.Bytes)},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
		{"Avg Speed", utils.FormatSpeed(s.Speed())},
	})
	return t.Render()
}

func RenderSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, SummaryView(s))
}

// HistoryView renders stored transfers, newest first.
func HistoryView(rows []history.Transfer) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "When", "Dir", "Name", "Size", "Result", "Saved To"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Transformer: resultColor},
	})

	var total int64
	for i, r := range rows {
		when := "-"
		if r.FinishedAt > 0 {
			when = time.UnixMilli(r.FinishedAt).Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{
			strconv.Itoa(i + 1),
			when,
			r.Direction,
			utils.TruncateString(r.Name, 40),
			utils.FormatSize(r.Size),
			r.Result,
			utils.TruncateString(r.Location, 50),
		})
		if r.Result == "completed" {
			total += r.Transferred
		}
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d transfers", len(rows)), utils.FormatSize(total), "", ""})
	return t.Render()
}

func resultColor(v any) string {
	s := fmt.Sprint(v)
	switch s {
	case "completed":
		return text.FgGreen.Sprint(s)
	case "failed":
		return text.FgRed.Sprint(s)
	case "abandoned":
		return text.FgYellow.Sprint(s)
	}
	return s
}

func RenderHistory(w io.Writer, rows []history.Transfer) {
	if len(rows) == 0 {
		fmt.Fprintln(w, MutedStyle.Render("No transfers recorded yet"))
		return
	}
	fmt.Fprintln(w, HistoryView(rows))
}
