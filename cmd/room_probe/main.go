package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/himanshub16/upnext-room/hub"
	"github.com/himanshub16/upnext-room/room"
)

type probe struct {
	ws *websocket.Conn
}

func (p *probe) send(event string, payload interface{}) error {
	data, err := hub.Encode(event, payload)
	if err != nil {
		return err
	}
	p.ws.SetWriteDeadline(time.Now().Add(hub.WriteTimeout))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

func (p *probe) printEvents(done chan<- struct{}) {
	defer close(done)
	for {
		var msg hub.Message
		if err := p.ws.ReadJSON(&msg); err != nil {
			log.Println("read failed:", err)
			return
		}
		fmt.Printf("%s %s\n", msg.Event, string(msg.Payload))
	}
}

func main() {
	var (
		url     string
		user    string
		enqueue string
		vote    string
		value   int
		wait    time.Duration
	)
	flag.StringVar(&url, "url", "ws://127.0.0.1:3000/ws", "Address of the room websocket")
	flag.StringVar(&user, "user", "", "Participant id to join as")
	flag.StringVar(&enqueue, "enqueue", "", "Track id to enqueue after joining")
	flag.StringVar(&vote, "vote", "", "Track id to vote on after joining")
	flag.IntVar(&value, "value", 1, "Vote value")
	flag.DurationVar(&wait, "wait", 0, "Exit after this long, zero waits for interrupt")
	flag.Parse()

	if user == "" {
		log.Fatal("-user is required")
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatal("failed to connect:", err)
	}
	defer ws.Close()

	p := &probe{ws: ws}
	done := make(chan struct{})
	go p.printEvents(done)

	if err := p.send("join", map[string]string{"participantId": user}); err != nil {
		log.Fatal("join failed:", err)
	}
	if enqueue != "" {
		err := p.send("enqueue", map[string]interface{}{
			"track": room.Track{ID: enqueue},
		})
		if err != nil {
			log.Fatal("enqueue failed:", err)
		}
	}
	if vote != "" {
		err := p.send("vote", map[string]interface{}{
			"trackId": vote,
			"value":   value,
		})
		if err != nil {
			log.Fatal("vote failed:", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	var timeout <-chan time.Time
	if wait > 0 {
		timeout = time.After(wait)
	}

	select {
	case <-done:
		return
	case <-interrupt:
	case <-timeout:
	}

	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(hub.WriteTimeout))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
