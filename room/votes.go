package room

import "sort"

// Priority is the sum of the latest vote of every participant.
func Priority(votes map[string]int) int {
	total := 0
	for _, v := range votes {
		total += v
	}
	return total
}

// sortEntries orders entries by priority, highest first. Equal priorities
// keep enqueue order, so the result does not depend on the previous order.
func sortEntries(entries []*QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].seq < entries[j].seq
	})
}

// pruneEntries drops every entry whose priority is no longer positive.
func pruneEntries(entries []*QueueEntry) []*QueueEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Priority > 0 {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	return kept
}
