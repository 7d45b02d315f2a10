// Package room owns the state of the single shared listening room: who is
// connected, which tracks are queued and what is playing. All mutation goes
// through the Coordinator.
package room

import "time"

// Track is a reference to a playable item on the external player.
type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// Duration returns the track length, or zero when unknown.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// Credential is the opaque access token handed to a participant.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Participant is a connected member of the room.
type Participant struct {
	ID         string
	ConnID     string
	Credential Credential
	JoinedAt   time.Time

	refresh *sessionTimer
}

// QueueEntry is one enqueued track together with the votes cast on it.
type QueueEntry struct {
	ID          string
	Track       Track
	Votes       map[string]int
	Priority    int
	SubmittedBy string
	EnqueuedAt  time.Time

	seq uint64
}

// PlaybackState describes the track currently handed to the player.
type PlaybackState struct {
	Track       Track
	SubmittedBy string
	StartedAt   time.Time
	Duration    time.Duration
}

// Room is the aggregate root. It is only touched from the coordinator loop.
type Room struct {
	participants map[string]*Participant
	conns        map[string]string // connection id -> participant id
	queue        *Queue
	playing      *PlaybackState
}

func newRoom() *Room {
	return &Room{
		participants: make(map[string]*Participant),
		conns:        make(map[string]string),
		queue:        NewQueue(),
	}
}
