package room_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/himanshub16/upnext-room/room"
	"github.com/stretchr/testify/require"
)

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) room.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the deadlines of armed timers, relative to now.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type sent struct {
	ConnID  string   // set for directed events
	ConnIDs []string // recipients of room-wide events
	Event   string
	Payload interface{}
}

type fakeTransport struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeTransport) Multicast(connIDs []string, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]string{}, connIDs...)
	f.msgs = append(f.msgs, sent{ConnIDs: ids, Event: event, Payload: payload})
}

func (f *fakeTransport) Emit(connID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{ConnID: connID, Event: event, Payload: payload})
}

func (f *fakeTransport) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sent, len(f.msgs))
	copy(out, f.msgs)
	return out
}

// lastBroadcast returns the payload of the latest room-wide send of event.
func (f *fakeTransport) lastBroadcast(event string) (interface{}, bool) {
	msgs := f.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ConnID == "" && msgs[i].Event == event {
			return msgs[i].Payload, true
		}
	}
	return nil, false
}

// received lists, in order, the events that reached connID either directly
// or as one of the recipients of a room-wide send.
func (f *fakeTransport) received(connID string) []string {
	var out []string
	for _, m := range f.all() {
		if m.ConnID == connID {
			out = append(out, m.Event)
			continue
		}
		for _, id := range m.ConnIDs {
			if id == connID {
				out = append(out, m.Event)
				break
			}
		}
	}
	return out
}

func (f *fakeTransport) emitted(connID, event string) []interface{} {
	var out []interface{}
	for _, m := range f.all() {
		if m.ConnID == connID && m.Event == event {
			out = append(out, m.Payload)
		}
	}
	return out
}

type fakePlayer struct {
	mu      sync.Mutex
	devices []string
	log     []string
	playErr error
}

func (p *fakePlayer) ListDevices(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices, nil
}

func (p *fakePlayer) Play(ctx context.Context, deviceID, trackURI string, positionMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, fmt.Sprintf("play %s %s %d", deviceID, trackURI, positionMs))
	return p.playErr
}

func (p *fakePlayer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, "pause")
	return nil
}

func (p *fakePlayer) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.log))
	copy(out, p.log)
	return out
}

var errRefresh = errors.New("auth provider unavailable")

type fakeAdmission struct {
	clock *fakeClock
	ttl   time.Duration

	mu       sync.Mutex
	admitted map[string]bool
	issued   int
	failures int           // next refreshes to fail
	gate     chan struct{} // when set, refreshes wait on it
}

func newFakeAdmission(clock *fakeClock, ttl time.Duration, ids ...string) *fakeAdmission {
	a := &fakeAdmission{clock: clock, ttl: ttl, admitted: make(map[string]bool)}
	for _, id := range ids {
		a.admitted[id] = true
	}
	return a
}

func (a *fakeAdmission) IsAdmitted(ctx context.Context, participantID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admitted[participantID]
}

func (a *fakeAdmission) RefreshCredential(ctx context.Context, participantID string) (room.Credential, error) {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return room.Credential{}, errRefresh
	}
	a.issued++
	return room.Credential{
		Token:     fmt.Sprintf("%s-token-%d", participantID, a.issued),
		ExpiresAt: a.clock.Now().Add(a.ttl),
	}, nil
}

type fixture struct {
	coord     *room.Coordinator
	clock     *fakeClock
	transport *fakeTransport
	player    *fakePlayer
	admission *fakeAdmission
	cfg       room.Config
}

func startRoom(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:     newFakeClock(),
		transport: &fakeTransport{},
		player:    &fakePlayer{devices: []string{"kitchen", "desk"}},
		cfg:       room.DefaultConfig(),
	}
	f.admission = newFakeAdmission(f.clock, time.Hour, "alice", "bob", "carol")
	f.coord = room.NewCoordinator(f.cfg, f.admission, f.player, f.transport, room.WithClock(f.clock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return f
}

func (f *fixture) snapshot(t *testing.T) room.Snapshot {
	t.Helper()
	s, err := f.coord.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (f *fixture) join(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.coord.Join(context.Background(), "conn-"+id, id))
	}
}

func track(id string, d time.Duration) room.Track {
	return room.Track{
		ID:         id,
		URI:        "spotify:track:" + id,
		Name:       "Track " + id,
		DurationMs: int64(d / time.Millisecond),
	}
}

func trackIDs(q []room.QueueEntryView) []string {
	out := make([]string, len(q))
	for i, e := range q {
		out[i] = e.TrackID
	}
	return out
}
