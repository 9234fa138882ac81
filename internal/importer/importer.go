// Package importer converts provider-normalized external items into local
// tasks, exactly once, honoring user routing rules.
package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avhart/focusdeck/internal/store"
)

// NormalizedItem is the provider-agnostic shape of an external task-like
// record. Provider clients produce it; the engine never sees provider wire
// formats.
type NormalizedItem struct {
	ID           string // external id, the dedup key
	ConnectionID string
	SourceType   string // store.SourceLinear, SourceTodoist, SourceAttio
	Title        string
	Subtitle     string
	Metadata     map[string]string
	URL          string
}

// Provider is the collaborator contract implemented by per-integration
// clients. FetchNormalizedItems must be stable across repeated calls for
// the same unchanged upstream state.
type Provider interface {
	Type() string
	FetchNormalizedItems(ctx context.Context, conn store.Connection) ([]NormalizedItem, error)
	PushCompletion(ctx context.Context, conn store.Connection, externalID string, completed bool) error
}

// Result aggregates one batch for observability.
type Result struct {
	Imported   int // tasks created
	AutoRouted int // tasks placed by a routing rule
	Skipped    int // duplicates, unmatched items, invalid rule targets
}

func (r Result) add(other Result) Result {
	return Result{
		Imported:   r.Imported + other.Imported,
		AutoRouted: r.AutoRouted + other.AutoRouted,
		Skipped:    r.Skipped + other.Skipped,
	}
}

type Engine struct {
	store   *store.Store
	log     *zap.Logger
	ownerID string
}

func NewEngine(s *store.Store, ownerID string, log *zap.Logger) *Engine {
	return &Engine{store: s, log: log, ownerID: ownerID}
}

// Apply routes a batch of items through the user's rules.
//
// An item is skipped outright if a task with the same source id already
// exists for the owner, or if an earlier item in this batch carried the
// same id: existing tasks are never re-imported or re-routed, no matter
// how rules have changed since. Otherwise the first active rule
// for the item's source type whose filter matches wins, in stored rule
// order. Items matching no rule are not persisted at all; they stay visible
// only on the provider's own triage surface. A matching rule whose target
// bucket has been deleted counts as skipped rather than erroring.
//
// All created tasks for the batch are inserted in a single transaction.
func (e *Engine) Apply(ctx context.Context, items []NormalizedItem, rules []store.ImportRule) (Result, error) {
	var result Result

	// Positions append at the end of each target bucket/section; track
	// what this batch has already claimed.
	nextPos := make(map[[2]string]int)
	seen := make(map[string]struct{}, len(items))
	var created []store.Task

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if _, dup := seen[item.ID]; dup {
			e.log.Debug("source id repeated within batch, skipping item",
				zap.String("itemId", item.ID))
			result.Skipped++
			continue
		}
		seen[item.ID] = struct{}{}

		if _, err := e.store.TaskBySourceID(e.ownerID, item.ID); err == nil {
			result.Skipped++
			continue
		} else if err != store.ErrNotFound {
			return result, fmt.Errorf("dedup lookup for %q: %w", item.ID, err)
		}

		rule := firstMatch(rules, item)
		if rule == nil {
			result.Skipped++
			continue
		}

		if _, err := e.store.GetBucket(rule.TargetBucketID); err == store.ErrNotFound {
			e.log.Debug("rule target bucket missing, skipping item",
				zap.String("ruleId", rule.ID),
				zap.String("itemId", item.ID))
			result.Skipped++
			continue
		} else if err != nil {
			return result, fmt.Errorf("rule target lookup: %w", err)
		}

		key := [2]string{rule.TargetBucketID, string(rule.TargetSection)}
		pos, seen := nextPos[key]
		if !seen {
			count, err := e.store.CountTasks(rule.TargetBucketID, rule.TargetSection)
			if err != nil {
				return result, fmt.Errorf("count target tasks: %w", err)
			}
			pos = count
		}
		nextPos[key] = pos + 1

		sourceID := item.ID
		connID := item.ConnectionID
		task := store.Task{
			ID:                uuid.NewString(),
			OwnerID:           e.ownerID,
			BucketID:          rule.TargetBucketID,
			Section:           rule.TargetSection,
			Status:            store.StatusOpen,
			Title:             item.Title,
			SourceDescription: item.Subtitle,
			Source:            item.SourceType,
			SourceID:          &sourceID,
			ConnectionID:      &connID,
			SourceMetadata:    item.Metadata,
			URL:               item.URL,
			Position:          pos,
		}
		created = append(created, task)
		result.Imported++
		result.AutoRouted++
	}

	if err := e.store.InsertImported(created); err != nil {
		// The batch transaction rolled back as a unit; nothing landed.
		return Result{}, fmt.Errorf("apply import batch: %w", err)
	}
	if result.Imported > 0 || result.Skipped > 0 {
		e.log.Info("import batch applied",
			zap.Int("imported", result.Imported),
			zap.Int("autoRouted", result.AutoRouted),
			zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

// firstMatch returns the first active rule for the item's source type whose
// filter matches, or nil. Stored order is the tie-break.
func firstMatch(rules []store.ImportRule, item NormalizedItem) *store.ImportRule {
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive || rule.IntegrationType != item.SourceType {
			continue
		}
		if filterMatches(rule.Filter, item) {
			return rule
		}
	}
	return nil
}

// filterMatches is the exhaustive switch over the filter variants; each
// integration compares its own scope key.
func filterMatches(f store.SourceFilter, item NormalizedItem) bool {
	switch f := f.(type) {
	case store.LinearFilter:
		return item.Metadata["teamId"] == f.TeamID
	case store.TodoistFilter:
		return item.Metadata["projectId"] == f.ProjectID
	case store.AttioFilter:
		return f.ListID == store.AttioAllLists || item.Metadata["listId"] == f.ListID
	default:
		return false
	}
}

// Run fetches from every active connection served by the given providers
// and applies each batch against the owner's current active rules.
func (e *Engine) Run(ctx context.Context, providers []Provider) (Result, error) {
	byType := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byType[p.Type()] = p
	}

	conns, err := e.store.ListConnections(true)
	if err != nil {
		return Result{}, fmt.Errorf("list connections: %w", err)
	}
	rules, err := e.store.ListImportRules(e.ownerID, true)
	if err != nil {
		return Result{}, fmt.Errorf("list rules: %w", err)
	}

	var total Result
	for _, conn := range conns {
		p, ok := byType[conn.Type]
		if !ok {
			continue
		}
		items, err := p.FetchNormalizedItems(ctx, conn)
		if err != nil {
			return total, fmt.Errorf("fetch from %s connection %s: %w", conn.Type, conn.ID, err)
		}
		res, err := e.Apply(ctx, items, rules)
		total = total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PushCompletion forwards a completion toggle for a provider-sourced task.
// Best-effort: the error is returned to the caller, never swallowed.
func (e *Engine) PushCompletion(ctx context.Context, providers []Provider, task *store.Task, completed bool) error {
	if task.Source == store.SourceManual || task.SourceID == nil || task.ConnectionID == nil {
		return nil
	}
	conn, err := e.store.GetConnection(*task.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	for _, p := range providers {
		if p.Type() == task.Source {
			return p.PushCompletion(ctx, *conn, *task.SourceID, completed)
		}
	}
	return fmt.Errorf("no provider for source %q", task.Source)
}
