package main

// this file contains the handlers for events received over websockets

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/himanshub16/upnext-room/hub"
	"github.com/himanshub16/upnext-room/room"
)

// Events received from clients.
const (
	eventJoin    = "join"
	eventEnqueue = "enqueue"
	eventVote    = "vote"
)

const eventTimeout = 10 * time.Second

type joinPayload struct {
	ParticipantID string `json:"participantId"`
}

// enqueue and vote act for whoever joined on the sending connection.
type enqueuePayload struct {
	Track room.Track `json:"track"`
}

type votePayload struct {
	TrackID string `json:"trackId"`
	Value   int    `json:"value"`
}

func (r *Radio) OnConnect(connID string) {
	log.Printf("radio: connection %s waiting for join (%d open)", connID, r.hub.Count())
}

func (r *Radio) OnMessage(connID string, msg hub.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var err error
	switch msg.Event {
	case eventJoin:
		var p joinPayload
		if err = msg.Decode(&p); err == nil {
			err = r.room.Join(ctx, connID, p.ParticipantID)
		}

	case eventEnqueue:
		var p enqueuePayload
		if err = msg.Decode(&p); err == nil {
			r.completeTrack(ctx, &p.Track)
			err = r.room.Enqueue(ctx, connID, p.Track)
		}

	case eventVote:
		var p votePayload
		if err = msg.Decode(&p); err == nil {
			err = r.room.Vote(ctx, connID, p.TrackID, p.Value)
		}

	default:
		log.Println("radio: unknown event", msg.Event, "from", connID)
		return
	}

	if err != nil && !errors.Is(err, room.ErrNotAdmitted) {
		log.Printf("radio: %s from %s failed: %v", msg.Event, connID, err)
	}
}

func (r *Radio) OnDisconnect(connID, reason string) {
	log.Printf("radio: connection %s closed (%d open)", connID, r.hub.Count())

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := r.room.Leave(ctx, connID, reason); err != nil {
		log.Printf("radio: disconnect of %s failed: %v", connID, err)
	}
}

// completeTrack looks up metadata the client did not send. A failed lookup
// keeps the track as sent; without a uri the room refuses it.
func (r *Radio) completeTrack(ctx context.Context, t *room.Track) {
	if r.tracks == nil || t.ID == "" {
		return
	}
	if t.URI != "" && t.Name != "" && t.DurationMs > 0 {
		return
	}
	if err := r.tracks.FillTrackMeta(ctx, t); err != nil {
		log.Println("radio: failed to fetch metadata for", t.ID, err)
	}
}
