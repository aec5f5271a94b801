package domain

import (
	"fmt"
	"strings"
)

// downloadMilestones is the ordered list of download thresholds that emit a
// one-time milestone event per target.
var downloadMilestones = []int64{100, 1000, 10000, 50000, 100000}

// MilestonesCrossed returns the thresholds satisfied by a monotonic counter
// move from previous to current: every threshold with previous < t <= current.
//
// Non-increasing transitions cross nothing; download counters never move
// backwards in the source tables, so a smaller current value indicates a
// replayed or reordered mutation.
func MilestonesCrossed(previous, current int64) []int64 {
	if current <= previous {
		return nil
	}
	var crossed []int64
	for _, threshold := range downloadMilestones {
		if previous < threshold && threshold <= current {
			crossed = append(crossed, threshold)
		}
	}
	return crossed
}

// MilestoneEventID builds the deterministic event id for one threshold
// crossing. The activity log's append idempotency over this id is what makes
// each (target, threshold) pair fire at most once even when the same counter
// transition is ingested more than once.
func MilestoneEventID(targetID string, threshold int64) string {
	return fmt.Sprintf("milestone:%s:%d", strings.TrimSpace(targetID), threshold)
}

// MilestoneMessage renders the human-readable milestone metadata line.
func MilestoneMessage(targetName string, threshold int64) string {
	return fmt.Sprintf("%s reached %d downloads!", targetName, threshold)
}
