package room

import (
	"context"
	"errors"
	"log"
	"time"
)

var (
	ErrNotAdmitted        = errors.New("participant is not admitted")
	ErrUnknownParticipant = errors.New("participant has not joined the room")
	ErrAlreadyJoined      = errors.New("connection already joined as another participant")
	ErrInvalidTrack       = errors.New("track has no id or uri")
	ErrStopped            = errors.New("room coordinator stopped")
)

// Admission decides who may join and issues their credentials.
type Admission interface {
	IsAdmitted(ctx context.Context, participantID string) bool
	RefreshCredential(ctx context.Context, participantID string) (Credential, error)
}

// Player drives the single shared output device.
type Player interface {
	ListDevices(ctx context.Context) ([]string, error)
	Play(ctx context.Context, deviceID, trackURI string, positionMs int64) error
	Pause(ctx context.Context) error
}

// History records every track handed to the player.
type History interface {
	RecordPlay(ctx context.Context, track Track, submittedBy string, startedAt time.Time) error
}

type Config struct {
	// FallbackDuration is used for tracks with unknown length.
	FallbackDuration time.Duration
	// RefreshLead is how long before expiry a credential is renewed.
	RefreshLead time.Duration
	RetryMin    time.Duration
	RetryMax    time.Duration
	// ProviderTimeout bounds each call to the player, admission or history.
	ProviderTimeout time.Duration
	PlayerBuffer    int
}

func DefaultConfig() Config {
	return Config{
		FallbackDuration: 3 * time.Minute,
		RefreshLead:      time.Minute,
		RetryMin:         5 * time.Second,
		RetryMax:         2 * time.Minute,
		ProviderTimeout:  10 * time.Second,
		PlayerBuffer:     16,
	}
}

type Option func(*Coordinator)

func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithHistory(h History) Option {
	return func(c *Coordinator) { c.history = h }
}

type command struct {
	fn   func() error
	done chan error
}

type playerCmd struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator is the only owner of the Room. Every operation, including
// timer callbacks, runs to completion on the Run loop before the next one
// starts.
type Coordinator struct {
	cfg       Config
	clock     Clock
	admission Admission
	player    Player
	history   History
	gw        gateway

	room     *Room
	advance  *advanceTimer
	timerSeq uint64

	cmds       chan command
	playerCmds chan playerCmd
	done       chan struct{}

	base   context.Context
	cancel context.CancelFunc
}

func NewCoordinator(cfg Config, admission Admission, player Player, t Transport, opts ...Option) *Coordinator {
	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		clock:      realClock{},
		admission:  admission,
		player:     player,
		gw:         gateway{t: t},
		room:       newRoom(),
		cmds:       make(chan command, 64),
		playerCmds: make(chan playerCmd, cfg.PlayerBuffer),
		done:       make(chan struct{}),
		base:       base,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes room events until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.shutdown()
	go c.playerWorker()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			err := cmd.fn()
			if cmd.done != nil {
				cmd.done <- err
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.cancelAdvance()
	for _, p := range c.room.participants {
		c.cancelSession(p)
	}
	c.cancel()
	close(c.done)
	log.Println("room: coordinator stopped")
}

// do runs fn on the loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the loop without waiting. Used by timers and detached
// calls reporting back.
func (c *Coordinator) post(fn func()) {
	cmd := command{fn: func() error {
		fn()
		return nil
	}}
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// dispatch runs fn off the loop. Failures are logged and go no further.
func (c *Coordinator) dispatch(name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(c.base, c.cfg.ProviderTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("room: %s failed: %v", name, err)
		}
	}()
}

// Join admits participantID on connection connID. Unknown participants get
// an admissionRejected event and ErrNotAdmitted.
func (c *Coordinator) Join(ctx context.Context, connID, participantID string) error {
	if !c.admission.IsAdmitted(ctx, participantID) {
		log.Printf("room: rejecting %s on %s", participantID, connID)
		if err := c.do(ctx, func() error {
			c.gw.rejected(connID)
			return nil
		}); err != nil {
			return err
		}
		return ErrNotAdmitted
	}

	return c.do(ctx, func() error {
		return c.join(connID, participantID)
	})
}

func (c *Coordinator) join(connID, participantID string) error {
	r := c.room

	if other, ok := r.conns[connID]; ok && other != participantID {
		log.Printf("room: %s already joined on %s, refusing %s", other, connID, participantID)
		return ErrAlreadyJoined
	}

	p, ok := r.participants[participantID]
	if ok {
		// rejoin from a new connection; the old one stops counting
		c.cancelSession(p)
		delete(r.conns, p.ConnID)
		p.ConnID = connID
	} else {
		p = &Participant{
			ID:       participantID,
			ConnID:   connID,
			JoinedAt: c.clock.Now(),
		}
		r.participants[participantID] = p
	}
	r.conns[connID] = participantID
	log.Printf("room: %s joined on %s (%d connected)", participantID, connID, len(r.participants))

	c.armSession(p, 0)
	c.gw.roster(r)
	c.gw.snapshot(connID, r)

	if r.playing == nil && r.queue.Len() > 0 {
		if c.startNext() {
			c.gw.queue(r)
		}
	}
	return nil
}

// Leave handles the disconnect of connID. Connections that never joined
// are ignored.
func (c *Coordinator) Leave(ctx context.Context, connID, reason string) error {
	return c.do(ctx, func() error {
		pid, ok := c.room.conns[connID]
		if !ok {
			return nil
		}
		log.Printf("room: %s disconnected, reason: %s", pid, reason)
		c.remove(c.room.participants[pid])
		c.gw.roster(c.room)
		return nil
	})
}

func (c *Coordinator) remove(p *Participant) {
	r := c.room
	if len(r.participants) == 1 {
		c.stopPlayback()
	}
	c.cancelSession(p)
	delete(r.conns, p.ConnID)
	delete(r.participants, p.ID)
}

// participantOn returns the participant joined on connID.
func (c *Coordinator) participantOn(connID string) (string, bool) {
	pid, ok := c.room.conns[connID]
	return pid, ok
}

// Enqueue adds track for the participant joined on connID and starts
// playback when idle.
func (c *Coordinator) Enqueue(ctx context.Context, connID string, track Track) error {
	if track.ID == "" || track.URI == "" {
		return ErrInvalidTrack
	}
	return c.do(ctx, func() error {
		r := c.room
		participantID, ok := c.participantOn(connID)
		if !ok {
			return ErrUnknownParticipant
		}
		r.queue.Enqueue(participantID, track, c.clock.Now())
		log.Printf("room: %s enqueued %s (%s)", participantID, track.ID, track.Name)

		if r.playing == nil {
			c.startNext()
		}
		c.gw.queue(r)
		return nil
	})
}

// Vote sets the vote on trackID of the participant joined on connID. Votes
// on tracks that are no longer queued are dropped silently.
func (c *Coordinator) Vote(ctx context.Context, connID, trackID string, value int) error {
	return c.do(ctx, func() error {
		r := c.room
		participantID, ok := c.participantOn(connID)
		if !ok {
			return ErrUnknownParticipant
		}
		if !r.queue.Vote(participantID, trackID, value) {
			return nil
		}
		c.gw.queue(r)
		return nil
	})
}

// Snapshot returns a copy of the current room state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		s = Snapshot{
			Roster:     rosterView(c.room),
			Queue:      queueView(c.room.queue),
			NowPlaying: nowPlayingView(c.room.playing),
		}
		return nil
	})
	return s, err
}
