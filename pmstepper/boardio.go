package pmstepper

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/encoder"

	"github.com/viam-modules/pm-stepper/fblin"
)

// hardware holds the board resources a motor drives. heartbeat may be nil.
type hardware struct {
	encoder   encoder.Encoder
	pwmA      board.GPIOPin
	dirA      board.GPIOPin
	pwmB      board.GPIOPin
	dirB      board.GPIOPin
	heartbeat board.GPIOPin
	currentA  board.Analog
	currentB  board.Analog
}

// pwmOutput latches the compare register the tick writes and pushes it to a board pin as a duty
// cycle. The compare value counts the inactive part of the period.
type pwmOutput struct {
	pin     board.GPIOPin
	period  uint32
	compare atomic.Uint32

	// owned by the flusher
	flushed uint32
	primed  bool
}

func newPWMOutput(pin board.GPIOPin, period uint32) *pwmOutput {
	o := &pwmOutput{pin: pin, period: period}
	o.compare.Store(period)
	return o
}

func (o *pwmOutput) Period() uint32 {
	return o.period
}

func (o *pwmOutput) SetCompare(compare uint32) {
	if compare > o.period {
		compare = o.period
	}
	o.compare.Store(compare)
}

func dutyCycle(compare, period uint32) float64 {
	return float64(period-compare) / float64(period)
}

func (o *pwmOutput) flush(ctx context.Context) error {
	compare := o.compare.Load()
	if o.primed && compare == o.flushed {
		return nil
	}
	if err := o.pin.SetPWM(ctx, dutyCycle(compare, o.period), nil); err != nil {
		return errors.Wrap(err, "set pwm")
	}
	o.flushed, o.primed = compare, true
	return nil
}

// levelOutput latches a binary pin level.
type levelOutput struct {
	pin   board.GPIOPin
	level atomic.Bool

	flushed bool
	primed  bool
}

func newLevelOutput(pin board.GPIOPin, high bool) *levelOutput {
	o := &levelOutput{pin: pin}
	o.level.Store(high)
	return o
}

func (o *levelOutput) Set(high bool) {
	o.level.Store(high)
}

func (o *levelOutput) flush(ctx context.Context) error {
	high := o.level.Load()
	if o.primed && high == o.flushed {
		return nil
	}
	if err := o.pin.Set(ctx, high, nil); err != nil {
		return errors.Wrap(err, "set pin")
	}
	o.flushed, o.primed = high, true
	return nil
}

// outputs is the set of latched outputs for one run.
type outputs struct {
	pwmA, pwmB *pwmOutput
	dirA, dirB *levelOutput
	heartbeat  *levelOutput
}

func newOutputs(hw hardware, period uint32) *outputs {
	o := &outputs{
		pwmA: newPWMOutput(hw.pwmA, period),
		pwmB: newPWMOutput(hw.pwmB, period),
		dirA: newLevelOutput(hw.dirA, true),
		dirB: newLevelOutput(hw.dirB, true),
	}
	if hw.heartbeat != nil {
		o.heartbeat = newLevelOutput(hw.heartbeat, false)
	}
	return o
}

// hardware returns the core's view of the outputs.
func (o *outputs) hardware(enc fblin.Encoder, clock fblin.Clock) fblin.Hardware {
	hw := fblin.Hardware{
		Encoder: enc,
		PWMA:    o.pwmA,
		PWMB:    o.pwmB,
		DirA:    o.dirA,
		DirB:    o.dirB,
		Clock:   clock,
	}
	if o.heartbeat != nil {
		hw.Heartbeat = o.heartbeat
	}
	return hw
}

func (o *outputs) setFrequency(ctx context.Context, freqHz uint) error {
	return multierr.Combine(
		o.pwmA.pin.SetPWMFreq(ctx, freqHz, nil),
		o.pwmB.pin.SetPWMFreq(ctx, freqHz, nil),
	)
}

// flush pushes every changed latch to its pin.
func (o *outputs) flush(ctx context.Context) error {
	err := multierr.Combine(
		o.dirA.flush(ctx),
		o.pwmA.flush(ctx),
		o.dirB.flush(ctx),
		o.pwmB.flush(ctx),
	)
	if o.heartbeat != nil {
		err = multierr.Combine(err, o.heartbeat.flush(ctx))
	}
	return err
}

// encoderInput turns encoder ticks into the signed count the estimator expects. The latest poll is
// held in a cell the tick reads.
type encoderInput struct {
	enc    encoder.Encoder
	sign   int64
	offset atomic.Int64
	count  fblin.Int64Cell
}

func newEncoderInput(enc encoder.Encoder, reversed bool) *encoderInput {
	e := &encoderInput{enc: enc, sign: 1}
	if reversed {
		e.sign = -1
	}
	return e
}

func (e *encoderInput) read(ctx context.Context) (int64, error) {
	ticks, _, err := e.enc.Position(ctx, encoder.PositionTypeTicks, nil)
	if err != nil {
		return 0, err
	}
	return e.sign*int64(math.Round(ticks)) - e.offset.Load(), nil
}

func (e *encoderInput) poll(ctx context.Context) error {
	count, err := e.read(ctx)
	if err != nil {
		return err
	}
	e.count.Store(count)
	return nil
}

// Count implements fblin.Encoder.
func (e *encoderInput) Count() int64 {
	return e.count.Load()
}

// readRaw returns an analog reading as the converter count the core scales.
func readRaw(ctx context.Context, analog board.Analog) (uint16, error) {
	v, err := analog.Read(ctx, nil)
	if err != nil {
		return 0, err
	}
	switch {
	case v.Value < 0:
		return 0, nil
	case v.Value > math.MaxUint16:
		return math.MaxUint16, nil
	}
	return uint16(v.Value), nil
}
