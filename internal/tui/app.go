package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/avhart/focusdeck/internal/export"
	"github.com/avhart/focusdeck/internal/identity"
	"github.com/avhart/focusdeck/internal/importer"
	"github.com/avhart/focusdeck/internal/outbox"
	"github.com/avhart/focusdeck/internal/store"
	"github.com/avhart/focusdeck/internal/timer"
)

// bgOpTimeout bounds import and drain runs triggered from the keyboard.
const bgOpTimeout = 30 * time.Second

// App is the root model. It owns global key handling, the tab chrome, and
// fans everything else out to the per-view submodels.
type App struct {
	store     *store.Store
	engine    *timer.Engine
	imports   *importer.Engine
	drainer   *outbox.Drainer
	providers []importer.Provider
	ident     *identity.Resolver

	width  int
	height int

	activeView    viewState
	showHelp      bool
	exportPicking bool
	exportCursor  int

	focus   focusModel
	tasks   tasksModel
	reports reportsModel
	sync    syncModel

	help        help.Model
	status      string
	statusError bool
}

func NewApp(s *store.Store, engine *timer.Engine, imports *importer.Engine, drainer *outbox.Drainer, providers []importer.Provider, ident *identity.Resolver) App {
	return App{
		store:      s,
		engine:     engine,
		imports:    imports,
		drainer:    drainer,
		providers:  providers,
		ident:      ident,
		activeView: viewFocus,
		focus:      newFocusModel(s, engine, ident.OwnerID()),
		tasks:      newTasksModel(s, ident.OwnerID()),
		reports:    newReportsModel(s, ident.OwnerID()),
		sync:       newSyncModel(s, ident),
		help:       help.New(),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.focus.Init(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.help.Width = msg.Width
		bodyHeight := a.height - 4 // header and footer rows
		a.focus.setSize(a.width, bodyHeight)
		a.tasks.setSize(a.width, bodyHeight)
		a.reports.setSize(a.width, bodyHeight)
		a.sync.setSize(a.width, bodyHeight)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case tickMsg:
		// Re-arm the ticker and let the focus view redraw its clock.
		var cmd tea.Cmd
		a.focus, cmd = a.focus.update(msg)
		return a, tea.Batch(tickCmd(), cmd)

	case statusMsg:
		a.setStatus(msg.text, msg.isError)
		return a, nil

	case focusStartedMsg:
		a.setStatus("Focus started", false)
		return a, nil

	case focusStoppedMsg:
		a.setStatus("Focus stopped", false)
		return a, nil

	case taskCompletedMsg:
		a.setStatus("Task completed", false)
		return a, a.pushCompletion(msg.task)

	case importDoneMsg:
		a.setStatus(fmt.Sprintf("Imported %d (%d auto-routed, %d skipped)",
			msg.result.Imported, msg.result.AutoRouted, msg.result.Skipped), false)
		return a, a.refreshActiveView()

	case drainDoneMsg:
		a.setStatus(fmt.Sprintf("Synced %d (%d retried, %d dropped)",
			msg.stats.Sent, msg.stats.Retried, msg.stats.Dropped), false)
		return a, a.refreshActiveView()

	case exportDoneMsg:
		a.setStatus("Exported to "+msg.path, false)
		a.exportPicking = false
		return a, nil
	}

	return a.routeToActiveView(msg)
}

// handleKey runs the global bindings. The export picker and any open form
// get the key first; submodel-local keys fall through at the end.
func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.exportPicking {
		return a.updateExportPicker(msg)
	}
	if a.isFormActive() {
		return a.routeToActiveView(msg)
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, keys.Help):
		a.showHelp = !a.showHelp
		a.help.ShowAll = a.showHelp
		return a, nil
	case key.Matches(msg, keys.Export):
		a.exportPicking = true
		a.exportCursor = 0
		return a, nil
	case key.Matches(msg, keys.Import):
		a.setStatus("Importing...", false)
		return a, a.doImport()
	case key.Matches(msg, keys.Sync):
		a.setStatus("Syncing...", false)
		return a, a.doDrain()
	case key.Matches(msg, keys.Tab1):
		return a.switchView(viewFocus)
	case key.Matches(msg, keys.Tab2):
		return a.switchView(viewTasks)
	case key.Matches(msg, keys.Tab3):
		return a.switchView(viewReports)
	case key.Matches(msg, keys.Tab4):
		return a.switchView(viewSync)
	case key.Matches(msg, keys.Tab):
		return a.switchView((a.activeView + 1) % 4)
	}

	return a.routeToActiveView(msg)
}

func (a App) switchView(v viewState) (tea.Model, tea.Cmd) {
	a.activeView = v
	return a, a.refreshActiveView()
}

func (a *App) setStatus(text string, isErr bool) {
	a.status = text
	a.statusError = isErr
}

func (a App) routeToActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.activeView {
	case viewFocus:
		a.focus, cmd = a.focus.update(msg)
	case viewTasks:
		a.tasks, cmd = a.tasks.update(msg)
	case viewReports:
		a.reports, cmd = a.reports.update(msg)
	case viewSync:
		a.sync, cmd = a.sync.update(msg)
	}
	return a, cmd
}

func (a App) isFormActive() bool {
	switch a.activeView {
	case viewTasks:
		return a.tasks.formActive
	case viewSync:
		return a.sync.formActive
	}
	return false
}

func (a App) refreshActiveView() tea.Cmd {
	switch a.activeView {
	case viewTasks:
		return a.tasks.refresh()
	case viewReports:
		return a.reports.refresh()
	case viewSync:
		return a.sync.refresh()
	}
	return a.focus.loadData()
}

func (a App) doImport() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bgOpTimeout)
		defer cancel()
		result, err := a.imports.Run(ctx, a.providers)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Import error: %v", err), isError: true}
		}
		return importDoneMsg{result: result}
	}
}

func (a App) doDrain() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), bgOpTimeout)
		defer cancel()
		stats, err := a.drainer.Drain(ctx)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Sync error: %v", err), isError: true}
		}
		return drainDoneMsg{stats: stats}
	}
}

// pushCompletion notifies the task's source integration, best effort. A
// failure never blocks the local status change.
func (a App) pushCompletion(task *store.Task) tea.Cmd {
	if task == nil || task.Source == store.SourceManual {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.imports.PushCompletion(ctx, a.providers, task, true); err != nil {
			return statusMsg{text: fmt.Sprintf("Completed locally; push failed: %v", err), isError: true}
		}
		return nil
	}
}

func (a App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	footer := a.renderFooter()

	body := a.renderExportPicker()
	if !a.exportPicking {
		switch a.activeView {
		case viewFocus:
			body = a.focus.view()
		case viewTasks:
			body = a.tasks.view()
		case viewReports:
			body = a.reports.view()
		case viewSync:
			body = a.sync.view()
		}
	}

	bodyHeight := max(a.height-lipgloss.Height(header)-lipgloss.Height(footer), 1)
	body = lipgloss.NewStyle().Width(a.width).Height(bodyHeight).Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (a App) renderHeader() string {
	var tabs []string
	for i, name := range viewNames {
		style := inactiveTabStyle
		if viewState(i) == a.activeView {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(name))
	}
	tabRow := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	title := lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Render("focusdeck")
	gap := max(a.width-lipgloss.Width(title)-lipgloss.Width(tabRow)-4, 1)

	return headerStyle.Render(lipgloss.JoinHorizontal(lipgloss.Bottom,
		title, lipgloss.NewStyle().Width(gap).Render(""), tabRow))
}

func (a App) renderFooter() string {
	left := footerStyle.Render(a.help.View(keys))

	right := ""
	if a.engine.Running() {
		right = successStyle.Render(" ● " + formatDuration(a.engine.Elapsed()))
	}
	if a.status != "" {
		style := mutedStyle
		if a.statusError {
			style = errorStyle
		}
		right += style.Render(" " + a.status)
	}

	gap := max(a.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return lipgloss.JoinHorizontal(lipgloss.Bottom,
		left, lipgloss.NewStyle().Width(gap).Render(""), right)
}

func (a App) renderExportPicker() string {
	rows := []string{titleStyle.Render("Export Format"), ""}
	for i, format := range []string{"CSV", "JSON"} {
		line := "  " + format
		style := normalItemStyle
		if i == a.exportCursor {
			line = "> " + format
			style = selectedItemStyle
		}
		rows = append(rows, style.Render(line))
	}
	rows = append(rows, "", mutedStyle.Render("  enter: export  esc: cancel"))

	return activePanelStyle.Width(a.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (a App) updateExportPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if a.exportCursor > 0 {
			a.exportCursor--
		}
	case key.Matches(msg, keys.Down):
		if a.exportCursor < 1 {
			a.exportCursor++
		}
	case key.Matches(msg, keys.Enter):
		a.exportPicking = false
		return a, a.doExport(a.exportCursor == 1)
	case key.Matches(msg, keys.Back):
		a.exportPicking = false
	}
	return a, nil
}

func (a App) doExport(asJSON bool) tea.Cmd {
	return func() tea.Msg {
		entries, err := a.store.ListEntries(store.EntryFilter{OwnerID: a.ident.OwnerID()})
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Export error: %v", err), isError: true}
		}

		// Name lookups for the export rows.
		tasks := make(map[string]*store.Task)
		buckets := make(map[string]*store.Bucket)
		if blist, err := a.store.ListBuckets(a.ident.OwnerID()); err == nil {
			for i := range blist {
				buckets[blist[i].ID] = &blist[i]
				tlist, _ := a.store.ListTasks(blist[i].ID, true)
				for j := range tlist {
					tasks[tlist[j].ID] = &tlist[j]
				}
			}
		}

		home, _ := os.UserHomeDir()
		name := "focusdeck-export-" + time.Now().Format("2006-01-02")

		var path string
		if asJSON {
			path = filepath.Join(home, name+".json")
			err = export.ToJSON(entries, tasks, buckets, path)
		} else {
			path = filepath.Join(home, name+".csv")
			err = export.ToCSV(entries, tasks, buckets, path)
		}
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Export error: %v", err), isError: true}
		}
		return exportDoneMsg{path: path}
	}
}
