package tui

import (
	"fmt"
	"time"

	"github.com/avhart/focusdeck/internal/importer"
	"github.com/avhart/focusdeck/internal/outbox"
	"github.com/avhart/focusdeck/internal/store"
)

// viewState represents the currently active view.
type viewState int

const (
	viewFocus viewState = iota
	viewTasks
	viewReports
	viewSync
)

var viewNames = []string{"Focus", "Tasks", "Reports", "Sync"}

// --- Messages ---

type focusStartedMsg struct{}

type focusStoppedMsg struct{}

type taskCompletedMsg struct {
	task *store.Task
}

type statusMsg struct {
	text    string
	isError bool
}

type tickMsg time.Time

type importDoneMsg struct {
	result importer.Result
}

type drainDoneMsg struct {
	stats outbox.Stats
}

type exportDoneMsg struct {
	path string
}

type formDoneMsg struct{}
type formCancelMsg struct{}

// --- Helpers ---

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatSeconds(secs int64) string {
	return formatDuration(time.Duration(secs) * time.Second)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
