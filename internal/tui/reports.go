package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/avhart/focusdeck/internal/store"
)

type reportMode int

const (
	reportDaily  reportMode = iota // trailing 7 days
	reportWeekly                   // calendar week, Monday anchored
)

// reportsModel renders focus history as a stacked bar chart (one bar per
// day, one segment per bucket) plus a per-day table.
type reportsModel struct {
	store   *store.Store
	ownerID string
	width   int
	height  int

	mode   reportMode
	offset int // periods back from the current one

	summaries []store.DailyFocusSummary
	chart     barchart.Model
}

func newReportsModel(s *store.Store, ownerID string) reportsModel {
	return reportsModel{store: s, ownerID: ownerID, chart: barchart.New(60, 12)}
}

func (r *reportsModel) setSize(w, h int) {
	r.width = w
	r.height = h
}

type reportsDataMsg struct {
	summaries []store.DailyFocusSummary
}

func (r reportsModel) refresh() tea.Cmd {
	from, to := r.span()
	return func() tea.Msg {
		summaries, _ := r.store.GetDailyFocusSummary(r.ownerID, from, to)
		return reportsDataMsg{summaries: summaries}
	}
}

// span is the half-open [from, to) date range for the current mode and
// offset.
func (r reportsModel) span() (time.Time, time.Time) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if r.mode == reportWeekly {
		sinceMonday := (int(today.Weekday()) + 6) % 7
		monday := today.AddDate(0, 0, -sinceMonday-7*r.offset)
		return monday, monday.AddDate(0, 0, 7)
	}

	to := today.AddDate(0, 0, 1-7*r.offset)
	return to.AddDate(0, 0, -7), to
}

func (r reportsModel) update(msg tea.Msg) (reportsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case reportsDataMsg:
		r.summaries = msg.summaries
		r.buildChart()
		return r, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Left):
			r.offset++
			return r, r.refresh()
		case key.Matches(msg, keys.Right):
			if r.offset > 0 {
				r.offset--
			}
			return r, r.refresh()
		case key.Matches(msg, keys.Tab):
			if r.mode == reportDaily {
				r.mode = reportWeekly
			} else {
				r.mode = reportDaily
			}
			r.offset = 0
			return r, r.refresh()
		}
	}
	return r, nil
}

func (r *reportsModel) buildChart() {
	w := max(r.width-8, 20)
	h := 12
	if r.height > 30 {
		h = 16
	}
	r.chart = barchart.New(w, h)

	byDate := make(map[string][]barchart.BarValue)
	for _, s := range r.summaries {
		byDate[s.Date] = append(byDate[s.Date], barchart.BarValue{
			Name:  s.BucketName,
			Value: float64(s.TotalSeconds) / 3600.0,
			Style: lipgloss.NewStyle().Foreground(lipgloss.Color(s.BucketColor)),
		})
	}

	from, to := r.span()
	var bars []barchart.BarData
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		values := byDate[day.Format("2006-01-02")]
		if len(values) == 0 {
			// Empty days still get a bar so the axis stays a full week.
			values = []barchart.BarValue{{Style: lipgloss.NewStyle().Foreground(colorSubtle)}}
		}
		bars = append(bars, barchart.BarData{Label: day.Format("Mon 02"), Values: values})
	}

	r.chart.PushAll(bars)
	r.chart.Draw()
}

func (r reportsModel) view() string {
	w := r.width - 4

	body := lipgloss.JoinVertical(lipgloss.Left,
		r.renderTitleRow(),
		"",
		r.chart.View(),
		"",
		r.renderLegend(),
		"",
		r.renderTable(w),
		"",
		mutedStyle.Render("  ←/→: navigate  tab: switch mode"),
	)
	return panelStyle.Width(w).Render(body)
}

func (r reportsModel) renderTitleRow() string {
	daily, weekly := activeTabStyle, inactiveTabStyle
	if r.mode == reportWeekly {
		daily, weekly = inactiveTabStyle, activeTabStyle
	}

	from, to := r.span()
	span := fmt.Sprintf("%s — %s", from.Format("Jan 02"), to.AddDate(0, 0, -1).Format("Jan 02, 2006"))

	return lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("Reports"), "  ",
		daily.Render("Daily"), weekly.Render("Weekly"), "  ",
		mutedStyle.Render(span),
	)
}

func (r reportsModel) renderTable(w int) string {
	if len(r.summaries) == 0 {
		return mutedStyle.Render("  No focus time for this period")
	}

	rows := []string{
		mutedStyle.Render(fmt.Sprintf("  %-12s %-20s %10s %8s", "Date", "Bucket", "Duration", "Entries")),
		mutedStyle.Render("  " + strings.Repeat("─", min(w-6, 54))),
	}
	for _, s := range r.summaries {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(s.BucketColor)).Render("●")
		rows = append(rows, fmt.Sprintf("  %-12s %s %-18s %10s %8d",
			s.Date, dot, s.BucketName, formatSeconds(s.TotalSeconds), s.EntryCount))
	}
	return strings.Join(rows, "\n")
}

func (r reportsModel) renderLegend() string {
	seen := make(map[string]bool)
	var items []string
	for _, s := range r.summaries {
		if seen[s.BucketID] {
			continue
		}
		seen[s.BucketID] = true
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(s.BucketColor)).Render("●")
		items = append(items, dot+" "+s.BucketName)
	}
	if len(items) == 0 {
		return ""
	}
	return "  " + strings.Join(items, "  ")
}
