// Package hub keeps the websocket connections of the room. Every
// connection is persistent and has its own outgoing channel; the hub fans
// events out to all of them or directs one to a single connection.
package hub

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler receives the lifecycle and messages of every connection.
// OnMessage is called from the connection's read loop, one message at a
// time.
type Handler interface {
	OnConnect(connID string)
	OnMessage(connID string, msg Message)
	OnDisconnect(connID string, reason string)
}

type conn struct {
	id string
	ws *websocket.Conn

	send      chan []byte
	interrupt chan string
}

// kick asks the write loop to close the connection.
func (c *conn) kick(reason string) {
	select {
	case c.interrupt <- reason:
	default:
	}
}

type Hub struct {
	handler Handler

	mu    sync.RWMutex
	conns map[string]*conn

	active  *atomic.Int64
	total   *atomic.Int64
	dropped *atomic.Int64
}

func New(handler Handler) *Hub {
	return &Hub{
		handler: handler,
		conns:   make(map[string]*conn),
		active:  atomic.NewInt64(0),
		total:   atomic.NewInt64(0),
		dropped: atomic.NewInt64(0),
	}
}

// Upgrade switches an HTTP request to the websocket protocol.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Serve runs ws until either side closes it. It blocks.
func (h *Hub) Serve(ws *websocket.Conn) {
	c := &conn{
		id:        uuid.New().String(),
		ws:        ws,
		send:      make(chan []byte, SendBufferSize),
		interrupt: make(chan string, 1),
	}
	h.open(c)
	h.handler.OnConnect(c.id)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return h.readLoop(c) })
	g.Go(func() error { return h.writeLoop(ctx, c) })
	err := g.Wait()

	h.close(c)
	h.handler.OnDisconnect(c.id, closeReason(err))
}

func (h *Hub) open(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.active.Inc()
	h.total.Inc()
	log.Printf("hub: new connection %s (%d active)", c.id, h.active.Load())
}

func (h *Hub) close(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.active.Dec()
	c.ws.Close()
	log.Printf("hub: closed connection %s (%d active)", c.id, h.active.Load())
}

func (h *Hub) readLoop(c *conn) error {
	c.ws.SetReadLimit(MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Event == "" {
			log.Printf("hub: message without event from %s", c.id)
			continue
		}
		h.handler.OnMessage(c.id, msg)
	}
}

type kickedError struct{ reason string }

func (e kickedError) Error() string { return e.reason }

func (h *Hub) writeLoop(ctx context.Context, c *conn) error {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.ws.Close()
				return err
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return err
			}

		case reason := <-c.interrupt:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
				time.Now().Add(WriteTimeout))
			c.ws.Close()
			return kickedError{reason: reason}

		// read loop failed
		case <-ctx.Done():
			return nil
		}
	}
}

// Multicast sends event to each of connIDs. The payload is encoded once;
// connections that already closed are skipped.
func (h *Hub) Multicast(connIDs []string, event string, payload interface{}) {
	if len(connIDs) == 0 {
		return
	}
	data, err := Encode(event, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		if c, ok := h.conns[id]; ok {
			h.deliver(c, data)
		}
	}
}

// Emit sends event to connID only.
func (h *Hub) Emit(connID string, event string, payload interface{}) {
	data, err := Encode(event, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		log.Printf("hub: dropping %s for closed connection %s", event, connID)
		return
	}
	h.deliver(c, data)
}

func (h *Hub) deliver(c *conn, data []byte) {
	select {
	case c.send <- data:
	default:
		h.dropped.Inc()
		log.Printf("hub: send buffer full for %s, disconnecting", c.id)
		c.kick("too slow")
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	return int(h.active.Load())
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.kick("server shutting down")
	}
	log.Printf("hub: shutting down, %d served, %d dropped for being slow", h.total.Load(), h.dropped.Load())
}

func closeReason(err error) string {
	var kicked kickedError
	switch {
	case err == nil:
		return "closed"
	case errors.As(err, &kicked):
		return kicked.reason
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client closed"
	default:
		return err.Error()
	}
}
