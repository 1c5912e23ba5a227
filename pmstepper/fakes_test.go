package pmstepper

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/testutils/inject"
)

// pinRecord captures the traffic to one injected pin.
type pinRecord struct {
	mu     sync.Mutex
	levels []bool
	duties []float64
	freqHz uint
}

func (r *pinRecord) lastDuty() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.duties) == 0 {
		return 0, false
	}
	return r.duties[len(r.duties)-1], true
}

func (r *pinRecord) dutyWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.duties)
}

func (r *pinRecord) lastLevel() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.levels) == 0 {
		return false, false
	}
	return r.levels[len(r.levels)-1], true
}

func (r *pinRecord) frequency() uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freqHz
}

func newFakePin() (*inject.GPIOPin, *pinRecord) {
	rec := &pinRecord{}
	pin := &inject.GPIOPin{}
	pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.levels = append(rec.levels, high)
		return nil
	}
	pin.SetPWMFunc = func(ctx context.Context, dutyCyclePct float64, extra map[string]interface{}) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.duties = append(rec.duties, dutyCyclePct)
		return nil
	}
	pin.SetPWMFreqFunc = func(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.freqHz = freqHz
		return nil
	}
	return pin, rec
}

func newFakeAnalog(value int) *inject.Analog {
	analog := &inject.Analog{}
	analog.ReadFunc = func(ctx context.Context, extra map[string]interface{}) (board.AnalogValue, error) {
		return board.AnalogValue{Value: value}, nil
	}
	return analog
}

// fakeEncoder reports a settable tick count. When step is set the shaft advances by step ticks
// after every read, so a run that reads once per tick sees it move at a constant speed.
type fakeEncoder struct {
	*inject.Encoder
	ticks atomic.Int64
	step  atomic.Int64
	reads atomic.Int64
}

func newFakeEncoder() *fakeEncoder {
	e := &fakeEncoder{Encoder: inject.NewEncoder("enc")}
	e.PositionFunc = func(ctx context.Context, positionType encoder.PositionType,
		extra map[string]interface{},
	) (float64, encoder.PositionType, error) {
		e.reads.Add(1)
		step := e.step.Load()
		return float64(e.ticks.Add(step) - step), encoder.PositionTypeTicks, nil
	}
	return e
}

// fakeBoard is the set of injected resources one motor is built from.
type fakeBoard struct {
	hw                     hardware
	encoder                *fakeEncoder
	pwmA, dirA, pwmB, dirB *pinRecord
	heartbeat              *pinRecord
}

func newFakeBoard() *fakeBoard {
	fb := &fakeBoard{encoder: newFakeEncoder()}
	pwmA, recPWMA := newFakePin()
	dirA, recDirA := newFakePin()
	pwmB, recPWMB := newFakePin()
	dirB, recDirB := newFakePin()
	heartbeat, recHeartbeat := newFakePin()
	fb.pwmA, fb.dirA, fb.pwmB, fb.dirB, fb.heartbeat = recPWMA, recDirA, recPWMB, recDirB, recHeartbeat
	fb.hw = hardware{
		encoder:   fb.encoder,
		pwmA:      pwmA,
		dirA:      dirA,
		pwmB:      pwmB,
		dirB:      dirB,
		heartbeat: heartbeat,
		// 1 A on each shunt
		currentA: newFakeAnalog(1263),
		currentB: newFakeAnalog(1263),
	}
	return fb
}

func almostZero(v float64) bool {
	return math.Abs(v) < 1e-9
}
