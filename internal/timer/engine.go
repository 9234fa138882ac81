// Package timer owns the focus-session state machine: one running session
// at most, time entries that never overlap, periodic crash-recovery
// snapshots, and takeover of sessions started on another device.
package timer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avhart/focusdeck/internal/store"
)

// Mode of a running session. Fixed mode carries a target duration and
// auto-stops when it elapses.
type Mode string

const (
	ModeOpen  Mode = "open"
	ModeFixed Mode = "fixed"
)

type state int

const (
	stateIdle state = iota
	stateRunning
)

// snapshotEveryTicks is the checkpoint cadence. A crash loses at most this
// many seconds of snapshot granularity.
const snapshotEveryTicks = 5

type Engine struct {
	store    *store.Store
	log      *zap.Logger
	ownerID  string
	deviceID string

	mu           sync.Mutex
	state        state
	mode         Mode
	fixedTarget  time.Duration
	session      *store.Session
	entry        *store.TimeEntry
	ticks        int
	clock        func() time.Time
	tickInterval time.Duration

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewEngine(s *store.Store, ownerID, deviceID string, log *zap.Logger) *Engine {
	return &Engine{
		store:        s,
		log:          log,
		ownerID:      ownerID,
		deviceID:     deviceID,
		clock:        time.Now,
		tickInterval: time.Second,
	}
}

// Start begins a focus session on taskID. A session already running is
// implicitly stopped first: its open entry is closed with a computed
// duration and the session ends, so intervals never overlap.
func (e *Engine) Start(taskID string, mode Mode, fixedMinutes int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if e.state == stateRunning {
		if err := e.stopLocked(now); err != nil {
			return fmt.Errorf("implicit stop: %w", err)
		}
	}

	sess, entry, err := e.store.StartSession(e.ownerID, taskID, e.deviceID, now)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	e.state = stateRunning
	e.mode = mode
	e.fixedTarget = time.Duration(fixedMinutes) * time.Minute
	e.session = sess
	e.entry = entry
	e.ticks = 0

	if err := e.store.SaveTimerSnapshot(sess.ID, entry.ID, taskID, sess.StartedAt); err != nil {
		return err
	}

	e.startTickerLocked()
	e.log.Info("session started",
		zap.String("sessionId", sess.ID),
		zap.String("taskId", taskID),
		zap.String("mode", string(mode)))
	return nil
}

// SwitchTask closes the current open entry and opens a new one for taskID
// under the same session. A silent no-op while idle.
func (e *Engine) SwitchTask(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateRunning {
		return nil
	}
	if taskID == e.entry.TaskID {
		return nil
	}

	entry, err := e.store.SwitchEntry(e.session, e.entry, taskID, e.clock())
	if err != nil {
		return fmt.Errorf("switch task: %w", err)
	}
	e.entry = entry

	return e.store.SaveTimerSnapshot(e.session.ID, entry.ID, taskID, e.session.StartedAt)
}

// Stop ends the running session: closes the open entry, marks the session
// ended, clears the device snapshot, and cancels the tick. A silent no-op
// while idle.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return nil
	}
	err := e.stopLocked(e.clock())
	e.mu.Unlock()

	// Wait for the tick goroutine outside the lock; an in-flight tick sees
	// Idle and returns.
	e.wg.Wait()
	return err
}

// Detach releases the engine without ending the session. The session and
// its open entry stay live in the store so the next launch, here or on
// another device, resumes them through Reconcile. A final snapshot is
// written first. A silent no-op while idle.
func (e *Engine) Detach() error {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return nil
	}
	err := e.store.SaveTimerSnapshot(e.session.ID, e.entry.ID, e.entry.TaskID, e.session.StartedAt)
	e.log.Info("session detached",
		zap.String("sessionId", e.session.ID),
		zap.Duration("elapsed", e.clock().Sub(e.session.StartedAt)))

	e.stopTickerLocked()
	e.state = stateIdle
	e.session = nil
	e.entry = nil
	e.ticks = 0
	e.mu.Unlock()

	e.wg.Wait()
	return err
}

func (e *Engine) stopLocked(now time.Time) error {
	if err := e.store.CloseSession(e.session, e.entry, now); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := e.store.ClearTimerSnapshot(); err != nil {
		return err
	}
	e.log.Info("session stopped",
		zap.String("sessionId", e.session.ID),
		zap.Duration("elapsed", now.Sub(e.session.StartedAt)))

	e.stopTickerLocked()
	e.state = stateIdle
	e.session = nil
	e.entry = nil
	e.ticks = 0
	return nil
}

// Reconcile recovers state at load time. If nothing is running locally it
// adopts the owner's newest active unended session from today, whether
// started here before a crash or on another device, reopening its most
// recent open entry and resuming as an open-mode session. Elapsed time is
// recomputed from the session's start, so it reflects the wall-clock gap.
// Local in-memory Running state always wins over a stale mirror read.
func (e *Engine) Reconcile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The adoption window opens at the local midnight the user lived
	// through, not the UTC one.
	now := e.clock()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	sess, err := e.store.ActiveSession(e.ownerID, startOfDay)
	if err == store.ErrNotFound {
		// No live session anywhere; drop any stale snapshot.
		return e.store.ClearTimerSnapshot()
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if e.state == stateRunning {
		if sess.ID != e.session.ID {
			// Two devices both believe they are running. Accepted window;
			// last writer of the closing fields wins at the remote store.
			e.log.Warn("reconcile ambiguous: foreign active session ignored while running locally",
				zap.String("localSessionId", e.session.ID),
				zap.String("foreignSessionId", sess.ID),
				zap.String("foreignDeviceId", sess.DeviceID))
		}
		return nil
	}

	entry, err := e.store.OpenEntry(sess.ID)
	if err == store.ErrNotFound {
		entry, err = e.store.AppendEntry(sess, sess.TaskID, now)
	}
	if err != nil {
		return fmt.Errorf("reconcile open entry: %w", err)
	}

	if sess.DeviceID != e.deviceID {
		e.log.Info("taking over session from another device",
			zap.String("sessionId", sess.ID),
			zap.String("deviceId", sess.DeviceID))
	} else {
		e.log.Info("recovered session after restart",
			zap.String("sessionId", sess.ID),
			zap.Duration("gap", now.Sub(sess.StartedAt)))
	}

	// Fixed semantics are ignored on resume: availability over precision.
	e.state = stateRunning
	e.mode = ModeOpen
	e.fixedTarget = 0
	e.session = sess
	e.entry = entry
	e.ticks = 0

	if err := e.store.SaveTimerSnapshot(sess.ID, entry.ID, entry.TaskID, sess.StartedAt); err != nil {
		return err
	}
	e.startTickerLocked()
	return nil
}

// tick runs once per second while running. The tick goroutine is the only
// writer to the elapsed counter.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateRunning {
		return
	}
	e.ticks++
	now := e.clock()

	if e.mode == ModeFixed && now.Sub(e.session.StartedAt) >= e.fixedTarget {
		if err := e.stopLocked(now); err != nil {
			e.log.Error("auto-stop failed", zap.Error(err))
		}
		return
	}

	if e.ticks%snapshotEveryTicks == 0 {
		if err := e.store.SaveTimerSnapshot(e.session.ID, e.entry.ID, e.entry.TaskID, e.session.StartedAt); err != nil {
			e.log.Error("snapshot checkpoint failed", zap.Error(err))
		}
	}
}

func (e *Engine) startTickerLocked() {
	e.ticker = time.NewTicker(e.tickInterval)
	e.done = make(chan struct{})
	ticker, done := e.ticker, e.done
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.tick()
			}
		}
	}()
}

func (e *Engine) stopTickerLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.done)
	e.ticker = nil
	e.done = nil
}

// Running reports whether a session is live on this device.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateRunning
}

// Elapsed is wall-clock time since the running session started, zero when
// idle.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRunning {
		return 0
	}
	return e.clock().Sub(e.session.StartedAt)
}

// CurrentTaskID is the task the open entry is attributed to, empty when
// idle.
func (e *Engine) CurrentTaskID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRunning {
		return ""
	}
	return e.entry.TaskID
}

// CurrentMode returns the running mode and fixed target (zero for open
// mode).
func (e *Engine) CurrentMode() (Mode, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRunning {
		return ModeOpen, 0
	}
	return e.mode, e.fixedTarget
}
