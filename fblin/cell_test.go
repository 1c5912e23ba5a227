package fblin

import (
	"math"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestFloat64Cell(t *testing.T) {
	var c Float64Cell
	test.That(t, c.Load(), test.ShouldEqual, 0)
	c.Store(-1.5)
	test.That(t, c.Load(), test.ShouldEqual, -1.5)
	c.Store(math.Inf(-1))
	test.That(t, math.IsInf(c.Load(), -1), test.ShouldBeTrue)
}

// One writer publishes an increasing sequence while one reader polls. Every value read must be
// one that was written, and reads never go backwards.
func TestFloat64CellSingleProducerSingleConsumer(t *testing.T) {
	const n = 100000
	var c Float64Cell
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			c.Store(float64(i) * 0.25)
		}
	}()

	last := 0.0
	for last < n*0.25 {
		v := c.Load()
		if v < last {
			t.Fatalf("read went backwards: %v after %v", v, last)
		}
		if math.Mod(v, 0.25) != 0 {
			t.Fatalf("read a value that was never written: %v", v)
		}
		last = v
	}
	wg.Wait()
}

func TestInt64Cell(t *testing.T) {
	var c Int64Cell
	c.Store(-40000)
	test.That(t, c.Load(), test.ShouldEqual, -40000)
}
