package room

import (
	"sort"
	"time"
)

// Events sent to clients.
const (
	EventRosterUpdated       = "rosterUpdated"
	EventQueueUpdated        = "queueUpdated"
	EventNowPlaying          = "nowPlaying"
	EventCredentialRefreshed = "credentialRefreshed"
	EventAdmissionRejected   = "admissionRejected"
)

// Transport delivers events to connections. Multicast reaches the listed
// connections; Emit reaches one. Neither may block for long, they are
// called from the coordinator loop.
type Transport interface {
	Multicast(connIDs []string, event string, payload interface{})
	Emit(connID string, event string, payload interface{})
}

type RosterEntry struct {
	ParticipantID string `json:"participantId"`
}

type QueueEntryView struct {
	EntryID     string         `json:"entryId"`
	TrackID     string         `json:"trackId"`
	Track       Track          `json:"track"`
	Votes       map[string]int `json:"votes"`
	Priority    int            `json:"priority"`
	SubmittedBy string         `json:"submittedBy"`
}

type NowPlayingView struct {
	TrackID     string `json:"trackId"`
	Track       Track  `json:"track"`
	SubmittedBy string `json:"submittedBy"`
	StartedAt   int64  `json:"startedAt"` // unix millis
	DurationMs  int64  `json:"durationMs"`
}

type CredentialView struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
}

// Snapshot is a read-only copy of the room.
type Snapshot struct {
	Roster     []RosterEntry    `json:"roster"`
	Queue      []QueueEntryView `json:"queue"`
	NowPlaying *NowPlayingView  `json:"nowPlaying"`
}

// gateway turns room state into client events.
type gateway struct {
	t Transport
}

// Room-wide events only reach connections of joined participants.
func (g gateway) roster(r *Room) {
	g.t.Multicast(members(r), EventRosterUpdated, rosterView(r))
}

func (g gateway) queue(r *Room) {
	g.t.Multicast(members(r), EventQueueUpdated, queueView(r.queue))
}

func (g gateway) nowPlaying(r *Room) {
	g.t.Multicast(members(r), EventNowPlaying, nowPlayingView(r.playing))
}

func (g gateway) snapshot(connID string, r *Room) {
	g.t.Emit(connID, EventQueueUpdated, queueView(r.queue))
	g.t.Emit(connID, EventNowPlaying, nowPlayingView(r.playing))
}

func (g gateway) credential(connID string, c Credential) {
	g.t.Emit(connID, EventCredentialRefreshed, CredentialView{
		Token:     c.Token,
		ExpiresAt: c.ExpiresAt.UnixNano() / int64(time.Millisecond),
	})
}

func (g gateway) rejected(connID string) {
	g.t.Emit(connID, EventAdmissionRejected, struct{}{})
}

// byJoinOrder returns the participants sorted by join time, then id.
func byJoinOrder(r *Room) []*Participant {
	ps := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return ps
}

// members lists the current connection of every joined participant.
func members(r *Room) []string {
	ps := byJoinOrder(r)
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ConnID
	}
	return out
}

func rosterView(r *Room) []RosterEntry {
	ps := byJoinOrder(r)
	out := make([]RosterEntry, len(ps))
	for i, p := range ps {
		out[i] = RosterEntry{ParticipantID: p.ID}
	}
	return out
}

func queueView(q *Queue) []QueueEntryView {
	entries := q.Entries()
	out := make([]QueueEntryView, len(entries))
	for i, e := range entries {
		out[i] = QueueEntryView{
			EntryID:     e.ID,
			TrackID:     e.Track.ID,
			Track:       e.Track,
			Votes:       e.Votes,
			Priority:    e.Priority,
			SubmittedBy: e.SubmittedBy,
		}
	}
	return out
}

func nowPlayingView(p *PlaybackState) *NowPlayingView {
	if p == nil {
		return nil
	}
	return &NowPlayingView{
		TrackID:     p.Track.ID,
		Track:       p.Track,
		SubmittedBy: p.SubmittedBy,
		StartedAt:   p.StartedAt.UnixNano() / int64(time.Millisecond),
		DurationMs:  int64(p.Duration / time.Millisecond),
	}
}
