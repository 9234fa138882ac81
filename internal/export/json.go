package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/avhart/focusdeck/internal/store"
)

type jsonExport struct {
	ExportedAt string      `json:"exported_at"`
	Count      int         `json:"count"`
	Entries    []jsonEntry `json:"entries"`
}

type jsonEntry struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Bucket      string `json:"bucket"`
	Task        string `json:"task"`
	TaskID      string `json:"task_id"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at,omitempty"`
	DurationSec int64  `json:"duration_seconds"`
	Duration    string `json:"duration"`
	DeviceID    string `json:"device_id"`
}

func ToJSON(entries []store.TimeEntry, tasks map[string]*store.Task, buckets map[string]*store.Bucket, path string) error {
	export := jsonExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Count:      len(entries),
	}

	for _, e := range entries {
		taskName, bucketName := lookupNames(e, tasks, buckets)
		endStr := ""
		var secs int64
		if e.EndedAt != nil {
			endStr = e.EndedAt.Local().Format(time.RFC3339)
		}
		if e.DurationSeconds != nil {
			secs = *e.DurationSeconds
		}

		export.Entries = append(export.Entries, jsonEntry{
			ID:          e.ID,
			SessionID:   e.SessionID,
			Bucket:      bucketName,
			Task:        taskName,
			TaskID:      e.TaskID,
			StartedAt:   e.StartedAt.Local().Format(time.RFC3339),
			EndedAt:     endStr,
			DurationSec: secs,
			Duration:    formatDuration(secs),
			DeviceID:    e.DeviceID,
		})
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	return nil
}
