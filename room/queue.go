package room

import (
	"time"

	"github.com/google/uuid"
)

// Queue holds the pending tracks ordered by vote.
type Queue struct {
	entries []*QueueEntry
	nextSeq uint64
}

func NewQueue() *Queue {
	return &Queue{entries: make([]*QueueEntry, 0)}
}

// Enqueue appends a new entry carrying the submitter's +1 and re-sorts.
// Duplicated tracks are kept as separate entries.
func (q *Queue) Enqueue(participantID string, track Track, now time.Time) *QueueEntry {
	q.nextSeq++
	e := &QueueEntry{
		ID:          uuid.New().String(),
		Track:       track,
		Votes:       map[string]int{participantID: 1},
		SubmittedBy: participantID,
		EnqueuedAt:  now,
		seq:         q.nextSeq,
	}
	e.Priority = Priority(e.Votes)
	q.entries = append(q.entries, e)
	sortEntries(q.entries)
	return e
}

// Vote records value as participantID's vote on the first entry for trackID.
// It reports whether an entry matched. An entry whose priority drops to zero
// or below is removed before Vote returns.
func (q *Queue) Vote(participantID, trackID string, value int) bool {
	var target *QueueEntry
	for _, e := range q.entries {
		if e.Track.ID == trackID {
			target = e
			break
		}
	}
	if target == nil {
		return false
	}

	target.Votes[participantID] = value
	target.Priority = Priority(target.Votes)
	sortEntries(q.entries)
	q.entries = pruneEntries(q.entries)
	return true
}

// PopNext removes and returns the head of the queue.
func (q *Queue) PopNext() (*QueueEntry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	head := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return head, true
}

func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns copies of the entries in play order.
func (q *Queue) Entries() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
		out[i].Votes = make(map[string]int, len(e.Votes))
		for pid, v := range e.Votes {
			out[i].Votes[pid] = v
		}
	}
	return out
}
