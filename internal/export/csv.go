package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/avhart/focusdeck/internal/store"
)

func ToCSV(entries []store.TimeEntry, tasks map[string]*store.Task, buckets map[string]*store.Bucket, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	// Header
	if err := w.Write([]string{"ID", "Bucket", "Task", "Session", "Start", "End", "Duration (s)", "Duration", "Device"}); err != nil {
		return err
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

		row := []string{
			e.ID,
			bucketName,
			taskName,
			e.SessionID,
			e.StartedAt.Local().Format(time.RFC3339),
			endStr,
			fmt.Sprintf("%d", secs),
			formatDuration(secs),
			e.DeviceID,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}

func lookupNames(e store.TimeEntry, tasks map[string]*store.Task, buckets map[string]*store.Bucket) (taskName, bucketName string) {
	taskName, bucketName = "Unknown", "Unknown"
	t, ok := tasks[e.TaskID]
	if !ok {
		return
	}
	taskName = t.Title
	if b, ok := buckets[t.BucketID]; ok {
		bucketName = b.Name
	}
	return
}

func formatDuration(secs int64) string {
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
