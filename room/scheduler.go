package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var errNoDevice = errors.New("no playback device available")

type advanceTimer struct {
	timer Timer
	gen   uint64
}

// startNext moves the queue head to the player. It reports false, leaving
// playback untouched, when the queue is empty.
func (c *Coordinator) startNext() bool {
	e, ok := c.room.queue.PopNext()
	if !ok {
		log.Println("room: nothing queued to play")
		return false
	}
	c.cancelAdvance()

	d := e.Track.Duration()
	if d <= 0 {
		d = c.cfg.FallbackDuration
	}
	now := c.clock.Now()
	c.room.playing = &PlaybackState{
		Track:       e.Track,
		SubmittedBy: e.SubmittedBy,
		StartedAt:   now,
		Duration:    d,
	}
	c.armAdvance(d)

	track := e.Track
	c.sendPlayer("play "+track.ID, func(ctx context.Context) error {
		return playOnFirstDevice(ctx, c.player, track.URI)
	})
	if c.history != nil {
		submittedBy := e.SubmittedBy
		c.dispatch("record play", func(ctx context.Context) error {
			return c.history.RecordPlay(ctx, track, submittedBy, now)
		})
	}

	log.Printf("room: now playing %s for %s", track.ID, d)
	c.gw.nowPlaying(c.room)
	return true
}

// stopPlayback returns to idle and pauses the device.
func (c *Coordinator) stopPlayback() {
	c.cancelAdvance()
	c.room.playing = nil
	c.sendPlayer("pause", c.player.Pause)
	c.gw.nowPlaying(c.room)
}

func (c *Coordinator) armAdvance(d time.Duration) {
	c.cancelAdvance()
	c.timerSeq++
	gen := c.timerSeq
	t := c.clock.AfterFunc(d, func() {
		c.post(func() { c.advanceDue(gen) })
	})
	c.advance = &advanceTimer{timer: t, gen: gen}
}

func (c *Coordinator) cancelAdvance() {
	if c.advance == nil {
		return
	}
	c.advance.timer.Stop()
	c.advance = nil
}

// advanceDue runs when the current track has finished. A callback whose
// timer was replaced or cancelled before reaching the loop does nothing.
func (c *Coordinator) advanceDue(gen uint64) {
	if c.advance == nil || c.advance.gen != gen {
		return
	}
	c.advance = nil

	if c.startNext() {
		c.gw.queue(c.room)
		return
	}
	log.Println("room: queue drained, going idle")
	c.stopPlayback()
}

// sendPlayer hands fn to the player worker, keeping device commands in
// the order they were issued.
func (c *Coordinator) sendPlayer(name string, fn func(ctx context.Context) error) {
	select {
	case c.playerCmds <- playerCmd{name: name, fn: fn}:
	default:
		log.Printf("room: player queue full, dropping %s", name)
	}
}

func (c *Coordinator) playerWorker() {
	for {
		select {
		case <-c.base.Done():
			return
		case cmd := <-c.playerCmds:
			ctx, cancel := context.WithTimeout(c.base, c.cfg.ProviderTimeout)
			if err := cmd.fn(ctx); err != nil {
				log.Printf("room: player %s failed: %v", cmd.name, err)
			}
			cancel()
		}
	}
}

// playOnFirstDevice starts uri from the beginning on the first device the
// player lists.
func playOnFirstDevice(ctx context.Context, p Player, uri string) error {
	devices, err := p.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return errNoDevice
	}
	return p.Play(ctx, devices[0], uri, 0)
}
