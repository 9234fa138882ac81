package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/avhart/focusdeck/internal/store"
)

var bucketColors = []string{"#6C63FF", "#2EC4B6", "#FF6B6B", "#F39C12", "#2ECC71", "#E74C3C", "#9B59B6", "#3498DB"}

var sectionNames = []store.Section{store.SectionToday, store.SectionSooner, store.SectionLater}

type tasksModel struct {
	store   *store.Store
	ownerID string
	width   int
	height  int

	buckets      []store.Bucket
	tasks        []store.Task
	cursor       int
	taskCursor   int
	viewingTasks bool // true = viewing tasks of selected bucket

	formActive bool
	form       *huh.Form
	formType   string // "bucket", "task"

	// Form field pointers (survive value copies)
	formName    *string
	formColor   *string
	formSection *string
	formDesc    *string
}

func newTasksModel(s *store.Store, ownerID string) tasksModel {
	name, color, section, desc := "", bucketColors[0], "", ""
	return tasksModel{
		store:       s,
		ownerID:     ownerID,
		formName:    &name,
		formColor:   &color,
		formSection: &section,
		formDesc:    &desc,
	}
}

func (m *tasksModel) setSize(w, h int) {
	m.width = w
	m.height = h
}

type bucketsDataMsg struct {
	buckets []store.Bucket
}

type tasksDataMsg struct {
	tasks []store.Task
}

func (m tasksModel) refresh() tea.Cmd {
	return func() tea.Msg {
		buckets, _ := m.store.ListBuckets(m.ownerID)
		return bucketsDataMsg{buckets: buckets}
	}
}

func (m tasksModel) refreshTasks() tea.Cmd {
	if m.cursor >= len(m.buckets) {
		return nil
	}
	bid := m.buckets[m.cursor].ID
	return func() tea.Msg {
		tasks, _ := m.store.ListTasks(bid, false)
		return tasksDataMsg{tasks: tasks}
	}
}

func (m tasksModel) update(msg tea.Msg) (tasksModel, tea.Cmd) {
	if m.formActive && m.form != nil {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case bucketsDataMsg:
		m.buckets = msg.buckets
		if m.cursor >= len(m.buckets) {
			m.cursor = max(0, len(m.buckets)-1)
		}
		return m, nil

	case tasksDataMsg:
		m.tasks = msg.tasks
		if m.taskCursor >= len(m.tasks) {
			m.taskCursor = max(0, len(m.tasks)-1)
		}
		return m, nil

	case tea.KeyMsg:
		if m.viewingTasks {
			return m.updateTaskView(msg)
		}
		return m.updateBucketList(msg)
	}
	return m, nil
}

func (m tasksModel) updateBucketList(msg tea.KeyMsg) (tasksModel, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.buckets)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Enter):
		if len(m.buckets) > 0 {
			m.viewingTasks = true
			m.taskCursor = 0
			return m, m.refreshTasks()
		}
	case key.Matches(msg, keys.New):
		return m.showNewBucketForm()
	case key.Matches(msg, keys.Delete):
		if len(m.buckets) > 0 {
			b := m.buckets[m.cursor]
			// Default bucket never deletes; tasks migrate to the default.
			if err := m.store.DeleteBucket(b.ID); err != nil {
				return m, errStatus(err)
			}
			return m, m.refresh()
		}
	}
	return m, nil
}

func (m tasksModel) updateTaskView(msg tea.KeyMsg) (tasksModel, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.viewingTasks = false
		return m, nil
	case key.Matches(msg, keys.Up):
		if m.taskCursor > 0 {
			m.taskCursor--
		}
	case key.Matches(msg, keys.Down):
		if m.taskCursor < len(m.tasks)-1 {
			m.taskCursor++
		}
	case key.Matches(msg, keys.New):
		return m.showNewTaskForm()
	case key.Matches(msg, keys.Done):
		if len(m.tasks) > 0 {
			task := m.tasks[m.taskCursor]
			if err := m.store.SetTaskStatus(task.ID, store.StatusDone); err != nil {
				return m, errStatus(err)
			}
			return m, tea.Batch(m.refreshTasks(), func() tea.Msg {
				return taskCompletedMsg{task: &task}
			})
		}
	case key.Matches(msg, keys.Delete):
		if len(m.tasks) > 0 {
			task := m.tasks[m.taskCursor]
			if err := m.store.SetTaskStatus(task.ID, store.StatusDismissed); err != nil {
				return m, errStatus(err)
			}
			return m, m.refreshTasks()
		}
	}
	return m, nil
}

func (m tasksModel) showNewBucketForm() (tasksModel, tea.Cmd) {
	*m.formName = ""
	*m.formColor = bucketColors[0]
	m.formType = "bucket"

	colorOptions := make([]huh.Option[string], len(bucketColors))
	for i, c := range bucketColors {
		colorOptions[i] = huh.NewOption(fmt.Sprintf("● %s", c), c)
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Bucket Name").Value(m.formName),
			huh.NewSelect[string]().Title("Color").Options(colorOptions...).Value(m.formColor),
		),
	)
	m.formActive = true
	return m, m.form.Init()
}

func (m tasksModel) showNewTaskForm() (tasksModel, tea.Cmd) {
	*m.formName = ""
	*m.formSection = string(store.SectionToday)
	*m.formDesc = ""
	m.formType = "task"

	sectionOptions := make([]huh.Option[string], len(sectionNames))
	for i, s := range sectionNames {
		sectionOptions[i] = huh.NewOption(string(s), string(s))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Task Title").Value(m.formName),
			huh.NewSelect[string]().Title("Section").Options(sectionOptions...).Value(m.formSection),
			huh.NewInput().Title("Notes").Value(m.formDesc),
		),
	)
	m.formActive = true
	return m, m.form.Init()
}

func (m tasksModel) updateForm(msg tea.Msg) (tasksModel, tea.Cmd) {
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.formActive = false
		return m.submitForm()
	}
	if m.form.State == huh.StateAborted {
		m.formActive = false
		return m, nil
	}
	return m, cmd
}

func (m tasksModel) submitForm() (tasksModel, tea.Cmd) {
	switch m.formType {
	case "bucket":
		if strings.TrimSpace(*m.formName) == "" {
			return m, nil
		}
		if _, err := m.store.CreateBucket(m.ownerID, *m.formName, "folder", *m.formColor); err != nil {
			return m, errStatus(err)
		}
		return m, m.refresh()

	case "task":
		if strings.TrimSpace(*m.formName) == "" {
			return m, nil
		}
		if m.cursor >= len(m.buckets) {
			return m, nil
		}
		bucket := m.buckets[m.cursor]
		_, err := m.store.CreateTask(m.ownerID, bucket.ID, store.Section(*m.formSection), *m.formName, *m.formDesc)
		if err != nil {
			return m, errStatus(err)
		}
		return m, m.refreshTasks()
	}
	return m, nil
}

func (m tasksModel) view() string {
	w := m.width - 4

	if m.formActive && m.form != nil {
		return activePanelStyle.Width(w).Render(m.form.View())
	}
	if m.viewingTasks {
		return m.viewTaskList(w)
	}
	return m.viewBucketList(w)
}

func (m tasksModel) viewBucketList(w int) string {
	title := titleStyle.Render("Buckets")
	rows := []string{title, ""}

	if len(m.buckets) == 0 {
		rows = append(rows, mutedStyle.Render("  No buckets. Press n to create one."))
	}
	for i, b := range m.buckets {
		cursor := "  "
		style := normalItemStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedItemStyle
		}
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(b.Color)).Render("●")
		label := b.Name
		if b.IsDefault {
			label += mutedStyle.Render("  (default)")
		}
		rows = append(rows, style.Render(fmt.Sprintf("%s%s %s", cursor, dot, label)))
	}
	rows = append(rows, "", mutedStyle.Render("  enter: open  n: new  d: delete"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (m tasksModel) viewTaskList(w int) string {
	bucketName := ""
	if m.cursor < len(m.buckets) {
		bucketName = m.buckets[m.cursor].Name
	}
	title := titleStyle.Render("Tasks — " + bucketName)
	rows := []string{title, ""}

	if len(m.tasks) == 0 {
		rows = append(rows, mutedStyle.Render("  No open tasks. Press n to create one."))
	}
	lastSection := store.Section("")
	for i, task := range m.tasks {
		if task.Section != lastSection {
			rows = append(rows, mutedStyle.Render("  — "+string(task.Section)))
			lastSection = task.Section
		}
		cursor := "  "
		style := normalItemStyle
		if i == m.taskCursor {
			cursor = "> "
			style = selectedItemStyle
		}
		label := task.Title
		if task.Source != store.SourceManual {
			label += accentStyle.Render("  [" + task.Source + "]")
		}
		rows = append(rows, style.Render(fmt.Sprintf("%s%s", cursor, label)))
	}
	rows = append(rows, "", mutedStyle.Render("  n: new  c: complete  d: dismiss  esc: back"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}
