package dataset

import (
	"sort"

	"adlens/internal/models"
)

// TopN returns the first n records ordered descending by the named metric.
// Missing metrics count as zero and ties keep original load order, so the
// sort must be stable. n larger than the dataset returns everything.
func TopN(records []models.AdRecord, sortKey string, n int) []models.AdRecord {
	if n < 0 {
		n = 0
	}

	ranked := make([]models.AdRecord, len(records))
	copy(ranked, records)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Metric(sortKey) > ranked[j].Metric(sortKey)
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}
