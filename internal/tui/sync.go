package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/avhart/focusdeck/internal/identity"
	"github.com/avhart/focusdeck/internal/store"
)

type syncModel struct {
	store  *store.Store
	ident  *identity.Resolver
	width  int
	height int

	pending     int
	connections []store.Connection
	rules       []store.ImportRule
	buckets     []store.Bucket
	cursor      int

	formActive bool
	form       *huh.Form

	formIntegration *string
	formFilterID    *string
	formFilterName  *string
	formBucketID    *string
	formSection     *string
}

func newSyncModel(s *store.Store, ident *identity.Resolver) syncModel {
	integration, filterID, filterName, bucketID, section := store.SourceLinear, "", "", "", string(store.SectionToday)
	return syncModel{
		store:           s,
		ident:           ident,
		formIntegration: &integration,
		formFilterID:    &filterID,
		formFilterName:  &filterName,
		formBucketID:    &bucketID,
		formSection:     &section,
	}
}

func (m *syncModel) setSize(w, h int) {
	m.width = w
	m.height = h
}

type syncDataMsg struct {
	pending     int
	connections []store.Connection
	rules       []store.ImportRule
	buckets     []store.Bucket
}

func (m syncModel) refresh() tea.Cmd {
	return func() tea.Msg {
		pending, _ := m.store.OutboxCount()
		connections, _ := m.store.ListConnections(false)
		rules, _ := m.store.ListImportRules(m.ident.OwnerID(), false)
		buckets, _ := m.store.ListBuckets(m.ident.OwnerID())
		return syncDataMsg{pending: pending, connections: connections, rules: rules, buckets: buckets}
	}
}

func (m syncModel) update(msg tea.Msg) (syncModel, tea.Cmd) {
	if m.formActive && m.form != nil {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case syncDataMsg:
		m.pending = msg.pending
		m.connections = msg.connections
		m.rules = msg.rules
		m.buckets = msg.buckets
		if m.cursor >= len(m.rules) {
			m.cursor = max(0, len(m.rules)-1)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.rules)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Enter):
			if len(m.rules) > 0 {
				r := m.rules[m.cursor]
				if err := m.store.SetImportRuleActive(r.ID, !r.IsActive); err != nil {
					return m, errStatus(err)
				}
				return m, m.refresh()
			}
		case key.Matches(msg, keys.Delete):
			if len(m.rules) > 0 {
				if err := m.store.DeleteImportRule(m.rules[m.cursor].ID); err != nil {
					return m, errStatus(err)
				}
				return m, m.refresh()
			}
		case key.Matches(msg, keys.New):
			return m.showNewRuleForm()
		}
	}
	return m, nil
}

func (m syncModel) showNewRuleForm() (syncModel, tea.Cmd) {
	if len(m.buckets) == 0 {
		return m, func() tea.Msg {
			return statusMsg{text: "Create a bucket before adding rules", isError: true}
		}
	}

	*m.formIntegration = store.SourceLinear
	*m.formFilterID = ""
	*m.formFilterName = ""
	*m.formBucketID = m.buckets[0].ID
	*m.formSection = string(store.SectionToday)

	bucketOptions := make([]huh.Option[string], len(m.buckets))
	for i, b := range m.buckets {
		bucketOptions[i] = huh.NewOption(b.Name, b.ID)
	}
	sectionOptions := make([]huh.Option[string], len(sectionNames))
	for i, s := range sectionNames {
		sectionOptions[i] = huh.NewOption(string(s), string(s))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Integration").
				Options(
					huh.NewOption("Linear", store.SourceLinear),
					huh.NewOption("Todoist", store.SourceTodoist),
					huh.NewOption("Attio", store.SourceAttio),
				).
				Value(m.formIntegration),
			huh.NewInput().Title("Filter ID (team/project/list; \"all\" for every Attio list)").Value(m.formFilterID),
			huh.NewInput().Title("Filter Name").Value(m.formFilterName),
			huh.NewSelect[string]().Title("Target Bucket").Options(bucketOptions...).Value(m.formBucketID),
			huh.NewSelect[string]().Title("Target Section").Options(sectionOptions...).Value(m.formSection),
		),
	)
	m.formActive = true
	return m, m.form.Init()
}

func (m syncModel) updateForm(msg tea.Msg) (syncModel, tea.Cmd) {
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

func (m syncModel) submitForm() (syncModel, tea.Cmd) {
	if strings.TrimSpace(*m.formFilterID) == "" {
		return m, nil
	}

	var filter store.SourceFilter
	switch *m.formIntegration {
	case store.SourceTodoist:
		filter = store.TodoistFilter{ProjectID: *m.formFilterID, ProjectName: *m.formFilterName}
	case store.SourceAttio:
		filter = store.AttioFilter{ListID: *m.formFilterID, ListName: *m.formFilterName}
	default:
		filter = store.LinearFilter{TeamID: *m.formFilterID, TeamName: *m.formFilterName}
	}

	_, err := m.store.CreateImportRule(m.ident.OwnerID(), filter, *m.formBucketID, store.Section(*m.formSection))
	if err != nil {
		return m, errStatus(err)
	}
	return m, m.refresh()
}

func (m syncModel) view() string {
	w := m.width - 4

	if m.formActive && m.form != nil {
		return activePanelStyle.Width(w).Render(m.form.View())
	}

	var sections []string
	sections = append(sections, m.renderStatusPanel(w))
	sections = append(sections, m.renderConnectionsPanel(w))
	sections = append(sections, m.renderRulesPanel(w))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m syncModel) renderStatusPanel(w int) string {
	rows := []string{titleStyle.Render("Sync"), ""}

	if m.ident.Anonymous() {
		rows = append(rows, warningStyle.Render("  Anonymous mode — changes queue locally and are not sent."))
	} else {
		rows = append(rows, fmt.Sprintf("  Account: %s", accentStyle.Render(m.ident.OwnerID())))
	}

	pendingLabel := successStyle.Render("up to date")
	if m.pending > 0 {
		pendingLabel = warningStyle.Render(fmt.Sprintf("%d pending", m.pending))
	}
	rows = append(rows, fmt.Sprintf("  Outbox: %s", pendingLabel))
	rows = append(rows, "", mutedStyle.Render("  i: import now  y: sync now"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (m syncModel) renderConnectionsPanel(w int) string {
	rows := []string{titleStyle.Render("Connections"), ""}

	if len(m.connections) == 0 {
		rows = append(rows, mutedStyle.Render("  No connections configured."))
	}
	for _, c := range m.connections {
		state := successStyle.Render("active")
		if !c.IsActive {
			state = mutedStyle.Render("disconnected")
		}
		rows = append(rows, fmt.Sprintf("  %-10s %-24s %s", c.Type, c.Label, state))
	}

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (m syncModel) renderRulesPanel(w int) string {
	rows := []string{titleStyle.Render("Import Rules"), ""}

	if len(m.rules) == 0 {
		rows = append(rows, mutedStyle.Render("  No rules. Press n to add one."))
	}
	for i, r := range m.rules {
		cursor := "  "
		style := normalItemStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedItemStyle
		}
		state := successStyle.Render("on ")
		if !r.IsActive {
			state = mutedStyle.Render("off")
		}
		target := m.bucketName(r.TargetBucketID)
		rows = append(rows, style.Render(fmt.Sprintf("%s%s  %-10s %-28s → %s / %s",
			cursor, state, r.IntegrationType, describeFilter(r.Filter), target, r.TargetSection)))
	}
	rows = append(rows, "", mutedStyle.Render("  n: new  enter: toggle  d: delete"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func (m syncModel) bucketName(id string) string {
	for _, b := range m.buckets {
		if b.ID == id {
			return b.Name
		}
	}
	return mutedStyle.Render("(deleted bucket)")
}

func describeFilter(f store.SourceFilter) string {
	switch f := f.(type) {
	case store.LinearFilter:
		if f.TeamName != "" {
			return "team " + f.TeamName
		}
		return "team " + f.TeamID
	case store.TodoistFilter:
		if f.ProjectName != "" {
			return "project " + f.ProjectName
		}
		return "project " + f.ProjectID
	case store.AttioFilter:
		if f.ListID == store.AttioAllLists {
			return "all lists"
		}
		if f.ListName != "" {
			return "list " + f.ListName
		}
		return "list " + f.ListID
	}
	return ""
}
