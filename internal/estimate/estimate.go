// Package estimate suggests a focus duration for a task from its recent
// history. Pure computation over closed time entries; nothing here
// persists.
package estimate

import (
	"fmt"
	"sort"

	"github.com/avhart/focusdeck/internal/store"
)

// sampleSize caps how much history feeds a suggestion.
const sampleSize = 8

// minSamples below which a sample set is too thin to trust.
const minSamples = 2

// Suggest returns a suggested duration in minutes for the task, or (0,
// false) when there is not enough history. It samples the task's most
// recent closed entries, widening to the task's whole bucket when the task
// alone has fewer than two.
func Suggest(s *store.Store, task *store.Task) (int, bool, error) {
	durations, err := s.RecentTaskDurations(task.ID, sampleSize)
	if err != nil {
		return 0, false, fmt.Errorf("task history: %w", err)
	}
	if len(durations) < minSamples {
		durations, err = s.RecentBucketDurations(task.BucketID, sampleSize)
		if err != nil {
			return 0, false, fmt.Errorf("bucket history: %w", err)
		}
	}
	if len(durations) < minSamples {
		return 0, false, nil
	}
	return suggestMinutes(durations), true, nil
}

// suggestMinutes is the median of the samples in minutes, rounded to the
// nearest 5 and floored at 5. Order-independent.
func suggestMinutes(durationSecs []int64) int {
	med := median(durationSecs)
	minutes := med / 60.0
	rounded := int((minutes+2.5)/5.0) * 5
	if rounded < 5 {
		rounded = 5
	}
	return rounded
}

// median uses the standard even/odd rule: the middle value, or the average
// of the two middle values.
func median(values []int64) float64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}
