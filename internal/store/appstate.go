package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnsureAppState returns the device-state singleton, minting a device id on
// first boot.
func (s *Store) EnsureAppState() (*AppState, error) {
	st, err := s.GetAppState()
	if err == nil {
		return st, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	deviceID := uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO app_state (key, device_id) VALUES ('state', ?)`, deviceID,
	); err != nil {
		return nil, fmt.Errorf("init app state: %w", err)
	}
	return s.GetAppState()
}

func (s *Store) GetAppState() (*AppState, error) {
	st := &AppState{}
	var sessionID, entryID, taskID, startedAt sql.NullString
	err := s.db.QueryRow(
		`SELECT device_id, active_session_id, active_time_entry_id, active_task_id, timer_started_at
		 FROM app_state WHERE key = 'state'`,
	).Scan(&st.DeviceID, &sessionID, &entryID, &taskID, &startedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app state: %w", err)
	}
	st.ActiveSessionID = strPtr(sessionID)
	st.ActiveTimeEntryID = strPtr(entryID)
	st.ActiveTaskID = strPtr(taskID)
	st.TimerStartedAt = parseNullTime(startedAt)
	return st, nil
}

// SaveTimerSnapshot persists the timer engine's live pointers. Called on
// every transition and on the periodic checkpoint tick.
func (s *Store) SaveTimerSnapshot(sessionID, entryID, taskID string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE app_state SET active_session_id = ?, active_time_entry_id = ?, active_task_id = ?, timer_started_at = ?
		 WHERE key = 'state'`,
		sessionID, entryID, taskID, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save timer snapshot: %w", err)
	}
	return nil
}

// ClearTimerSnapshot wipes the live pointers after a clean stop.
func (s *Store) ClearTimerSnapshot() error {
	_, err := s.db.Exec(
		`UPDATE app_state SET active_session_id = NULL, active_time_entry_id = NULL,
		 active_task_id = NULL, timer_started_at = NULL WHERE key = 'state'`,
	)
	if err != nil {
		return fmt.Errorf("clear timer snapshot: %w", err)
	}
	return nil
}
