package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Section is the triage column a task lives in within its bucket.
type Section string

const (
	SectionToday  Section = "today"
	SectionSooner Section = "sooner"
	SectionLater  Section = "later"
)

// Task status values. Tasks are never hard-deleted across sync; completion
// and dismissal are soft status changes.
const (
	StatusOpen      = "open"
	StatusDone      = "done"
	StatusDismissed = "dismissed"
)

// Task sources. Anything other than SourceManual carries an external
// source id used as the import dedup key.
const (
	SourceManual  = "manual"
	SourceLinear  = "linear"
	SourceTodoist = "todoist"
	SourceAttio   = "attio"
)

type Bucket struct {
	ID        string
	OwnerID   string
	Name      string
	Icon      string
	Color     string
	Position  int
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Task struct {
	ID                string
	OwnerID           string
	BucketID          string
	Section           Section
	Status            string
	Title             string
	Description       string
	SourceDescription string
	Source            string
	SourceID          *string // external id; nil for manual tasks
	ConnectionID      *string
	SourceMetadata    map[string]string
	URL               string
	Position          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Session struct {
	ID        string
	OwnerID   string
	TaskID    string
	DeviceID  string
	StartedAt time.Time
	EndedAt   *time.Time
	IsActive  bool
}

type TimeEntry struct {
	ID              string
	SessionID       string
	TaskID          string
	OwnerID         string
	DeviceID        string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int64 // set iff EndedAt is set
}

// SourceFilter is the polymorphic scope of an import rule. The concrete
// variant is determined by the rule's integration type.
type SourceFilter interface {
	filterTag() string
}

// LinearFilter scopes a rule to one Linear team.
type LinearFilter struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
}

// TodoistFilter scopes a rule to one Todoist project.
type TodoistFilter struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
}

// AttioFilter scopes a rule to one Attio list. ListID "all" matches every
// list for the connection.
type AttioFilter struct {
	ListID   string `json:"listId"`
	ListName string `json:"listName"`
}

// AttioAllLists is the sentinel list id that matches every Attio list.
const AttioAllLists = "all"

func (LinearFilter) filterTag() string  { return SourceLinear }
func (TodoistFilter) filterTag() string { return SourceTodoist }
func (AttioFilter) filterTag() string   { return SourceAttio }

func encodeFilter(f SourceFilter) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFilter(integrationType string, raw []byte) (SourceFilter, error) {
	switch integrationType {
	case SourceLinear:
		var f LinearFilter
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	case SourceTodoist:
		var f TodoistFilter
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	case SourceAttio:
		var f AttioFilter
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown integration type %q", integrationType)
	}
}

type ImportRule struct {
	ID              string
	OwnerID         string
	IntegrationType string
	Filter          SourceFilter
	TargetBucketID  string
	TargetSection   Section
	IsActive        bool
	CreatedAt       time.Time
}

type Connection struct {
	ID         string
	Type       string
	Label      string
	Credential string
	Metadata   map[string]string
	IsActive   bool
	CreatedAt  time.Time
}

// Outbox operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// OutboxItem is one pending remote mutation. ID is a monotonic rowid so
// creation order is drain order.
type OutboxItem struct {
	ID          int64
	Table       string
	EntityID    string
	Op          string
	Payload     json.RawMessage
	CreatedAt   time.Time
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
}

// AppState is the per-device singleton mirroring the timer engine's live
// state for crash recovery.
type AppState struct {
	DeviceID          string
	ActiveSessionID   *string
	ActiveTimeEntryID *string
	ActiveTaskID      *string
	TimerStartedAt    *time.Time
}
