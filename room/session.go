package room

import (
	"context"
	"log"
	"time"
)

// sessionTimer is the credential refresh timer owned by one participant.
// timer is nil while a refresh call is in flight.
type sessionTimer struct {
	timer    Timer
	gen      uint64
	failures int
}

func (c *Coordinator) armSession(p *Participant, d time.Duration) {
	failures := 0
	if p.refresh != nil {
		failures = p.refresh.failures
	}
	c.cancelSession(p)

	c.timerSeq++
	gen := c.timerSeq
	pid := p.ID
	t := c.clock.AfterFunc(d, func() {
		c.post(func() { c.sessionDue(pid, gen) })
	})
	p.refresh = &sessionTimer{timer: t, gen: gen, failures: failures}
}

func (c *Coordinator) cancelSession(p *Participant) {
	if p.refresh == nil {
		return
	}
	if p.refresh.timer != nil {
		p.refresh.timer.Stop()
	}
	p.refresh = nil
}

// currentSession returns the participant still owning timer gen.
func (c *Coordinator) currentSession(pid string, gen uint64) (*Participant, bool) {
	p, ok := c.room.participants[pid]
	if !ok || p.refresh == nil || p.refresh.gen != gen {
		return nil, false
	}
	return p, true
}

func (c *Coordinator) sessionDue(pid string, gen uint64) {
	p, ok := c.currentSession(pid, gen)
	if !ok {
		return
	}
	p.refresh.timer = nil

	c.dispatch("refresh credential for "+pid, func(ctx context.Context) error {
		cred, err := c.admission.RefreshCredential(ctx, pid)
		c.post(func() { c.sessionRefreshed(pid, gen, cred, err) })
		return err
	})
}

func (c *Coordinator) sessionRefreshed(pid string, gen uint64, cred Credential, err error) {
	p, ok := c.currentSession(pid, gen)
	if !ok {
		return
	}

	if err != nil {
		p.refresh.failures++
		wait := c.retryDelay(p.refresh.failures)
		log.Printf("room: credential refresh for %s failed %d times, retrying in %s", pid, p.refresh.failures, wait)
		c.armSession(p, wait)
		return
	}

	p.refresh.failures = 0
	p.Credential = cred
	c.armSession(p, c.refreshDelay(cred))
	c.gw.credential(p.ConnID, cred)
}

// refreshDelay schedules the next refresh RefreshLead before expiry, or at
// half the window when the window is shorter than the lead.
func (c *Coordinator) refreshDelay(cred Credential) time.Duration {
	window := cred.ExpiresAt.Sub(c.clock.Now())
	if window <= 0 {
		return c.cfg.RetryMin
	}
	if window <= c.cfg.RefreshLead {
		return window / 2
	}
	return window - c.cfg.RefreshLead
}

func (c *Coordinator) retryDelay(failures int) time.Duration {
	d := c.cfg.RetryMin
	for i := 1; i < failures && d < c.cfg.RetryMax; i++ {
		d *= 2
	}
	if d > c.cfg.RetryMax {
		d = c.cfg.RetryMax
	}
	return d
}
