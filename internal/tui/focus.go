package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/avhart/focusdeck/internal/estimate"
	"github.com/avhart/focusdeck/internal/store"
	"github.com/avhart/focusdeck/internal/timer"
)

// defaultFixedMinutes is the target for a fixed-mode focus session started
// from the keyboard.
const defaultFixedMinutes = 25

type pickerAction int

const (
	pickStart pickerAction = iota
	pickStartFixed
	pickSwitch
)

// focusModel is the landing view: the live timer plus today's totals.
type focusModel struct {
	store   *store.Store
	engine  *timer.Engine
	ownerID string
	width   int
	height  int

	tasks        []store.Task
	buckets      map[string]string // id -> name
	todaySummary []store.BucketFocusSummary

	picking      bool
	pickerCursor int
	pickerFor    pickerAction
}

func newFocusModel(s *store.Store, engine *timer.Engine, ownerID string) focusModel {
	return focusModel{
		store:   s,
		engine:  engine,
		ownerID: ownerID,
		buckets: map[string]string{},
	}
}

func (f focusModel) Init() tea.Cmd {
	return f.loadData()
}

func (f *focusModel) setSize(w, h int) {
	f.width = w
	f.height = h
}

type focusDataMsg struct {
	tasks        []store.Task
	buckets      map[string]string
	todaySummary []store.BucketFocusSummary
}

func (f focusModel) loadData() tea.Cmd {
	return func() tea.Msg {
		tasks, _ := f.store.ListOpenTasks(f.ownerID)

		buckets := make(map[string]string)
		if list, err := f.store.ListBuckets(f.ownerID); err == nil {
			for _, b := range list {
				buckets[b.ID] = b.Name
			}
		}

		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		summary, _ := f.store.GetBucketFocusSummary(f.ownerID, dayStart, dayStart.Add(24*time.Hour))

		return focusDataMsg{tasks: tasks, buckets: buckets, todaySummary: summary}
	}
}

func (f focusModel) update(msg tea.Msg) (focusModel, tea.Cmd) {
	switch msg := msg.(type) {
	case focusDataMsg:
		f.tasks = msg.tasks
		f.buckets = msg.buckets
		f.todaySummary = msg.todaySummary
		return f, nil

	case tickMsg:
		// The engine ticks itself; the message only triggers a redraw.
		return f, nil

	case tea.KeyMsg:
		if f.picking {
			return f.updatePicker(msg)
		}

		switch {
		case key.Matches(msg, keys.Start):
			return f.openPicker(pickStart)
		case key.Matches(msg, keys.Fixed):
			return f.openPicker(pickStartFixed)
		case key.Matches(msg, keys.Switch):
			if !f.engine.Running() {
				return f, nil
			}
			return f.openPicker(pickSwitch)
		case key.Matches(msg, keys.Stop):
			if err := f.engine.Stop(); err != nil {
				return f, errStatus(err)
			}
			return f, tea.Batch(f.loadData(), func() tea.Msg { return focusStoppedMsg{} })
		}
	}
	return f, nil
}

func (f focusModel) openPicker(action pickerAction) (focusModel, tea.Cmd) {
	if len(f.tasks) == 0 {
		return f, func() tea.Msg {
			return statusMsg{text: "No open tasks. Press 2 to go to Tasks and create one.", isError: true}
		}
	}
	f.picking = true
	f.pickerCursor = 0
	f.pickerFor = action
	return f, nil
}

func (f focusModel) updatePicker(msg tea.KeyMsg) (focusModel, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if f.pickerCursor > 0 {
			f.pickerCursor--
		}
	case key.Matches(msg, keys.Down):
		if f.pickerCursor < len(f.tasks)-1 {
			f.pickerCursor++
		}
	case key.Matches(msg, keys.Enter):
		task := f.tasks[f.pickerCursor]
		f.picking = false
		return f.applyPick(task)
	case key.Matches(msg, keys.Back):
		f.picking = false
	}
	return f, nil
}

func (f focusModel) applyPick(task store.Task) (focusModel, tea.Cmd) {
	var err error
	switch f.pickerFor {
	case pickStart:
		err = f.engine.Start(task.ID, timer.ModeOpen, 0)
	case pickStartFixed:
		err = f.engine.Start(task.ID, timer.ModeFixed, defaultFixedMinutes)
	case pickSwitch:
		err = f.engine.SwitchTask(task.ID)
	}
	if err != nil {
		return f, errStatus(err)
	}
	return f, tea.Batch(f.loadData(), func() tea.Msg { return focusStartedMsg{} })
}

func errStatus(err error) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: fmt.Sprintf("Error: %v", err), isError: true}
	}
}

func (f focusModel) view() string {
	if f.width < 20 {
		return "Terminal too small"
	}
	contentWidth := f.width - 4

	timerPanel := f.renderTimerPanel(contentWidth)
	summaryPanel := f.renderSummaryPanel(contentWidth)

	var bottomPanel string
	if f.picking {
		bottomPanel = f.renderTaskPicker(contentWidth)
	} else {
		bottomPanel = f.renderUpNextPanel(contentWidth)
	}

	return lipgloss.JoinVertical(lipgloss.Left, timerPanel, summaryPanel, bottomPanel)
}

func (f focusModel) renderTimerPanel(w int) string {
	if f.engine.Running() {
		elapsed := f.engine.Elapsed()
		timeDisplay := timerRunningStyle.Width(w - 6).Render(formatDuration(elapsed))

		mode, target := f.engine.CurrentMode()
		indicator := successStyle.Render("●  FOCUSING")
		if mode == timer.ModeFixed {
			remaining := target - elapsed
			if remaining < 0 {
				remaining = 0
			}
			indicator = warningStyle.Render(fmt.Sprintf("◔  %s left", formatDuration(remaining)))
		}

		taskLine := mutedStyle.Render("unknown task")
		if task, err := f.store.GetTask(f.engine.CurrentTaskID()); err == nil {
			taskLine = highlightStyle.Render(task.Title)
			if name, ok := f.buckets[task.BucketID]; ok {
				taskLine += mutedStyle.Render(" / " + name)
			}
		}

		content := lipgloss.JoinVertical(lipgloss.Center, timeDisplay, indicator, taskLine)
		return activePanelStyle.Width(w).Render(content)
	}

	timeDisplay := timerStyle.Width(w - 6).Render("00:00:00")
	indicator := mutedStyle.Render("■  IDLE")
	hint := mutedStyle.Render("s: open focus  f: 25m fixed focus")

	content := lipgloss.JoinVertical(lipgloss.Center, timeDisplay, indicator, hint)
	return panelStyle.Width(w).Render(content)
}

func (f focusModel) renderSummaryPanel(w int) string {
	title := titleStyle.Render("Today")

	var total int64
	for _, s := range f.todaySummary {
		total += s.TotalSeconds
	}
	header := fmt.Sprintf("%s  %s", title, highlightStyle.Render(formatSeconds(total)))

	if len(f.todaySummary) == 0 {
		return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left,
			header, mutedStyle.Render("No focus time today"),
		))
	}

	rows := []string{header}
	for _, s := range f.todaySummary {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(s.BucketColor)).Render("●")
		rows = append(rows, fmt.Sprintf("  %s %-20s %s  (%d entries)",
			dot, s.BucketName, formatSeconds(s.TotalSeconds), s.EntryCount))
	}
	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (f focusModel) renderUpNextPanel(w int) string {
	title := titleStyle.Render("Up Next")
	if len(f.tasks) == 0 {
		return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left,
			title, mutedStyle.Render("No open tasks"),
		))
	}

	rows := []string{title}
	for i, task := range f.tasks {
		if i >= 5 {
			break
		}
		bucketName := f.buckets[task.BucketID]
		suffix := ""
		if minutes, ok, _ := estimate.Suggest(f.store, &task); ok {
			suffix = mutedStyle.Render(fmt.Sprintf("  ~%dm", minutes))
		}
		rows = append(rows, fmt.Sprintf("  %s %s%s",
			mutedStyle.Render(bucketName+" /"), task.Title, suffix))
	}
	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (f focusModel) renderTaskPicker(w int) string {
	var title string
	switch f.pickerFor {
	case pickStart:
		title = titleStyle.Render("Start Focus On")
	case pickStartFixed:
		title = titleStyle.Render(fmt.Sprintf("Start %dm Focus On", defaultFixedMinutes))
	case pickSwitch:
		title = titleStyle.Render("Switch To")
	}

	rows := []string{title}
	for i, task := range f.tasks {
		cursor := "  "
		style := normalItemStyle
		if i == f.pickerCursor {
			cursor = "> "
			style = selectedItemStyle
		}
		bucketName := f.buckets[task.BucketID]
		rows = append(rows, style.Render(fmt.Sprintf("%s%s — %s", cursor, task.Title, bucketName)))
	}
	rows = append(rows, "", mutedStyle.Render("  enter: select  esc: cancel"))

	return activePanelStyle.Width(w).Render(strings.Join(rows, "\n"))
}
