package fblin

import (
	"context"
	"sync"
	"time"
)

// TickerClock fires a handler at a fixed period on the calling goroutine.
type TickerClock struct {
	period   time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// NewTickerClock returns a clock with the given period. It does not run until Run is called.
func NewTickerClock(period time.Duration) *TickerClock {
	return &TickerClock{period: period, stop: make(chan struct{})}
}

// Run calls fn once per period until Stop is called (possibly by fn itself) or ctx is done. A
// tick that is late is not made up: missed periods are dropped by the ticker.
func (c *TickerClock) Run(ctx context.Context, fn func()) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop halts the clock. It is safe to call more than once and from any goroutine.
func (c *TickerClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Stopped reports whether Stop has been called.
func (c *TickerClock) Stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
