package fblin

import (
	"math"
	"sync/atomic"
)

// Float64Cell hands one float64 from a single producer to a single consumer. Store and Load are
// atomic, so the consumer never sees a partially written value; what it sees is the most recent
// completed Store, which is at most one producer period old.
type Float64Cell struct {
	bits atomic.Uint64
}

// Store publishes v.
func (c *Float64Cell) Store(v float64) {
	c.bits.Store(math.Float64bits(v))
}

// Load returns the last published value, or 0 if nothing was published.
func (c *Float64Cell) Load() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Int64Cell is the integer counterpart of Float64Cell.
type Int64Cell struct {
	v atomic.Int64
}

// Store publishes v.
func (c *Int64Cell) Store(v int64) {
	c.v.Store(v)
}

// Load returns the last published value.
func (c *Int64Cell) Load() int64 {
	return c.v.Load()
}
