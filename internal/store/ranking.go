package store

import (
	"sort"

	"github.com/lucyheather39-png/que-management/internal/models"
)

// PositionOf is the admission-time position for a newcomer of tier among the
// given entries: every active entry of an equal or better tier is ahead.
func PositionOf(entries []models.Entry, tier models.Tier) int {
	ahead := 0
	for _, entry := range entries {
		if models.IsActive(entry.Status) && entry.Tier <= tier {
			ahead++
		}
	}
	return ahead + 1
}

// SortEntries orders entries by tier, then arrival, then insertion sequence.
func SortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return lessEntry(entries[i], entries[j])
	})
}

func lessEntry(a, b models.Entry) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// LivePosition is the 1-based rank of entryID within the ordered active
// entries, or 0 when the entry is no longer active.
func LivePosition(entries []models.Entry, entryID string) int {
	active := make([]models.Entry, 0, len(entries))
	for _, entry := range entries {
		if models.IsActive(entry.Status) {
			active = append(active, entry)
		}
	}
	SortEntries(active)
	for i, entry := range active {
		if entry.EntryID == entryID {
			return i + 1
		}
	}
	return 0
}
