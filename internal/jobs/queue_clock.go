package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/model"
	"github.com/controlled-anonymity/client-go/internal/session"
)

// QueueClock reports elapsed queue time while the session is queued. It runs
// only between entering and leaving the queued phase.
type QueueClock struct {
	interval time.Duration
	now      func() time.Time
	tick     func(elapsed time.Duration)

	mu       sync.Mutex
	queuedAt time.Time
	done     chan struct{}
}

func NewQueueClock(interval time.Duration, tick func(elapsed time.Duration)) *QueueClock {
	return &QueueClock{
		interval: interval,
		now:      time.Now,
		tick:     tick,
	}
}

// OnNotification implements session.Observer.
func (c *QueueClock) OnNotification(n session.Notification) {
	s := n.Session
	if s.Phase == model.PhaseQueued && s.QueuedAt != nil {
		c.Start(*s.QueuedAt)
		return
	}
	c.Stop()
}

// Start begins ticking from queuedAt. Restarting with the same queuedAt is a
// no-op; a different one restarts the clock.
func (c *QueueClock) Start(queuedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		if c.queuedAt.Equal(queuedAt) {
			return
		}
		close(c.done)
	}
	c.queuedAt = queuedAt
	c.done = make(chan struct{})
	go c.run(queuedAt, c.done)
	log.Debug().Dur("interval", c.interval).Msg("queue clock started")
}

func (c *QueueClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done == nil {
		return
	}
	close(c.done)
	c.done = nil
	log.Debug().Msg("queue clock stopped")
}

func (c *QueueClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

func (c *QueueClock) run(queuedAt time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.tick(c.now().Sub(queuedAt))
		}
	}
}
