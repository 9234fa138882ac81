// Package outbox drains the write-ahead mutation queue to the remote store.
// Local writes never wait on it; draining runs in the background whenever
// connectivity and an account are available.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avhart/focusdeck/internal/identity"
	"github.com/avhart/focusdeck/internal/store"
)

// Mutation is one upsert-by-id write against the remote store. Ids are
// client-generated, so a re-sent insert after a retry is a safe upsert.
type Mutation struct {
	Table    string          `json:"table"`
	EntityID string          `json:"entityId"`
	Op       string          `json:"op"`
	Payload  json.RawMessage `json:"payload"`
}

// Remote is the transport boundary. Apply must be idempotent per mutation.
type Remote interface {
	Apply(ctx context.Context, m Mutation) error
}

// permanentError marks a failure that must not be retried (validation,
// conflict). Everything else is treated as transient.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the drainer surfaces it once and stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Stats summarizes one drain pass.
type Stats struct {
	Sent    int
	Retried int
	Dropped int
	Held    int
}

type Drainer struct {
	store  *store.Store
	remote Remote
	ident  *identity.Resolver
	log    *zap.Logger

	clock       func() time.Time
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewDrainer(s *store.Store, remote Remote, ident *identity.Resolver, log *zap.Logger) *Drainer {
	return &Drainer{
		store:       s,
		remote:      remote,
		ident:       ident,
		log:         log,
		clock:       time.Now,
		backoffBase: 5 * time.Second,
		backoffCap:  time.Hour,
	}
}

// Drain pushes due outbox records to the remote in creation order. While the
// resolver is anonymous it is a no-op: records keep accumulating so a later
// sign-in replays the full local history.
//
// Ordering: operations on the same entity id stay ordered relative to each
// other. A record that fails (or is already backing off) holds back every
// later record for that entity in this pass; unrelated entities proceed.
func (d *Drainer) Drain(ctx context.Context) (Stats, error) {
	var stats Stats
	if d.ident.Anonymous() {
		return stats, nil
	}

	blocked, err := d.store.OutboxBlockedEntities()
	if err != nil {
		return stats, fmt.Errorf("load blocked entities: %w", err)
	}
	items, err := d.store.PendingOutbox(0)
	if err != nil {
		return stats, fmt.Errorf("load pending outbox: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		key := [2]string{item.Table, item.EntityID}
		if blocked[key] {
			stats.Held++
			continue
		}

		err := d.remote.Apply(ctx, Mutation{
			Table:    item.Table,
			EntityID: item.EntityID,
			Op:       item.Op,
			Payload:  item.Payload,
		})
		switch {
		case err == nil:
			if err := d.store.DeleteOutboxItem(item.ID); err != nil {
				return stats, fmt.Errorf("ack outbox item %d: %w", item.ID, err)
			}
			stats.Sent++

		case IsPermanent(err):
			// Surfaced once, removed from the retry loop.
			d.log.Error("dropping outbox item after permanent sync error",
				zap.Int64("outboxId", item.ID),
				zap.String("table", item.Table),
				zap.String("entityId", item.EntityID),
				zap.String("op", item.Op),
				zap.Error(err))
			if err := d.store.DeleteOutboxItem(item.ID); err != nil {
				return stats, fmt.Errorf("drop outbox item %d: %w", item.ID, err)
			}
			stats.Dropped++
			blocked[key] = true

		default:
			retryAt := d.clock().Add(d.backoff(item.Attempts))
			if err2 := d.store.RescheduleOutboxItem(item.ID, retryAt, err.Error()); err2 != nil {
				return stats, fmt.Errorf("reschedule outbox item %d: %w", item.ID, err2)
			}
			d.log.Debug("transient sync error, will retry",
				zap.Int64("outboxId", item.ID),
				zap.String("table", item.Table),
				zap.String("entityId", item.EntityID),
				zap.Int("attempts", item.Attempts+1),
				zap.Time("retryAt", retryAt),
				zap.Error(err))
			stats.Retried++
			blocked[key] = true
		}
	}
	return stats, nil
}

// backoff doubles per attempt from the base, capped.
func (d *Drainer) backoff(attempts int) time.Duration {
	delay := d.backoffBase
	for i := 0; i < attempts && delay < d.backoffCap; i++ {
		delay *= 2
	}
	if delay > d.backoffCap {
		delay = d.backoffCap
	}
	return delay
}

// RunEvery drains on a fixed interval until ctx is cancelled.
func (d *Drainer) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Warn("drain pass failed", zap.Error(err))
			}
		}
	}
}
