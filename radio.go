// this file deals with the global state of the system
package main

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/himanshub16/upnext-room/hub"
	"github.com/himanshub16/upnext-room/room"
)

// TrackResolver fills in metadata missing from an enqueued track.
type TrackResolver interface {
	FillTrackMeta(ctx context.Context, track *room.Track) error
}

// Radio ties the room coordinator to the websocket hub.
type Radio struct {
	room   *room.Coordinator
	hub    *hub.Hub
	tracks TrackResolver
}

func NewRadio(cfg room.Config, service Service, player room.Player, tracks TrackResolver) *Radio {
	r := &Radio{tracks: tracks}
	r.hub = hub.New(r)
	r.room = room.NewCoordinator(cfg, service, player, r.hub, room.WithHistory(service))
	return r
}

// Start runs the room until ctx is done.
func (r *Radio) Start(ctx context.Context) error {
	err := r.room.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve attaches an upgraded websocket connection to the room. It blocks
// until the connection closes.
func (r *Radio) Serve(ws *websocket.Conn) {
	r.hub.Serve(ws)
}

func (r *Radio) Snapshot(ctx context.Context) (room.Snapshot, error) {
	return r.room.Snapshot(ctx)
}

func (r *Radio) Shutdown() {
	// close and perform cleanup if required
	r.hub.Shutdown()
}
