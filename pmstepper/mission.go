package pmstepper

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/utils"

	"github.com/viam-modules/pm-stepper/fblin"
)

// flushTimeout bounds the final zero-output write after a run.
const flushTimeout = time.Second

// mission is one run of the rig driven from board I/O.
type mission struct {
	rig     *fblin.Rig
	clock   *fblin.TickerClock
	outputs *outputs
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// running reports whether the run has not stopped yet.
func (ms *mission) running() bool {
	select {
	case <-ms.rig.Done():
		return false
	default:
		return true
	}
}

// stop asks the run to end and waits until the outputs are zeroed. Output errors are reported
// only by the call that ended the run.
func (ms *mission) stop() error {
	wasRunning := ms.running()
	ms.rig.RequestStop()
	<-ms.done
	if !wasRunning {
		return nil
	}
	return ms.err
}

// startMission builds a rig for traj and starts the clock and producers. startCount is the encoder
// count the trajectory was planned from. Callers hold m.mu and have stopped the previous mission.
func (m *Motor) startMission(ctx context.Context, traj fblin.Trajectory, p fblin.Params, startCount int64) (*mission, error) {
	ctrl, err := fblin.NewController(m.controllerName, p)
	if err != nil {
		return nil, err
	}
	outs := newOutputs(m.hw, p.PWMPeriod)
	if err := outs.setFrequency(ctx, m.pwmFreqHz); err != nil {
		return nil, errors.Wrapf(err, "error setting pwm frequency on motor (%s)", m.Name().ShortName())
	}
	m.enc.count.Store(startCount)
	clock := fblin.NewTickerClock(p.TickPeriod)
	rig, err := fblin.NewRig(p, traj, ctrl, outs.hardware(m.enc, clock), m.logger)
	if err != nil {
		return nil, err
	}
	rig.Seed(float64(startCount) * p.CountToRadians())
	rawA, errA := readRaw(ctx, m.hw.currentA)
	rawB, errB := readRaw(ctx, m.hw.currentB)
	if err := multierr.Combine(errA, errB); err != nil {
		return nil, errors.Wrapf(err, "error reading phase currents of motor (%s)", m.Name().ShortName())
	}
	rig.OnPhaseASample(rawA)
	rig.OnPhaseBSample(rawB)

	runCtx, cancel := context.WithCancel(context.Background())
	ms := &mission{
		rig:     rig,
		clock:   clock,
		outputs: outs,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.tracking.reset()

	var producers sync.WaitGroup
	producers.Add(3)
	utils.PanicCapturingGo(func() {
		defer producers.Done()
		m.sampleCurrent(runCtx, m.hw.currentA, rig.OnPhaseASample, p.TickPeriod)
	})
	utils.PanicCapturingGo(func() {
		defer producers.Done()
		m.sampleCurrent(runCtx, m.hw.currentB, rig.OnPhaseBSample, p.TickPeriod)
	})
	utils.PanicCapturingGo(func() {
		defer producers.Done()
		m.flushOutputs(runCtx, ms, p.TickPeriod)
	})

	m.logger.Infow("run started",
		"motor", m.Name().ShortName(),
		"controller", m.controllerName,
		"mission_sec", p.MissionDuration.Seconds(),
		"start_angle_rad", float64(startCount)*p.CountToRadians(),
	)

	utils.PanicCapturingGo(func() {
		defer close(ms.done)
		runtime.LockOSThread()
		clock.Run(runCtx, m.tickFunc(runCtx, rig))
		runtime.UnlockOSThread()
		// the clock has exited so no tick can race this
		rig.Shutdown()
		cancel()
		producers.Wait()

		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		defer flushCancel()
		if err := outs.flush(flushCtx); err != nil {
			ms.err = errors.Wrapf(err, "error zeroing outputs of motor (%s)", m.Name().ShortName())
			m.logger.CError(flushCtx, ms.err)
		}
	})
	return ms, nil
}

// tickFunc reads the encoder and runs one control cycle, so every tick sees a count taken in its
// own period. A failed read leaves the previous count in place.
func (m *Motor) tickFunc(ctx context.Context, rig *fblin.Rig) func() {
	var failing bool
	return func() {
		err := m.enc.poll(ctx)
		if err != nil && !failing && ctx.Err() == nil {
			m.logger.CError(ctx, errors.Wrap(err, "encoder read failed"))
		}
		failing = err != nil
		rig.Tick()
	}
}

// every calls fn once per period until ctx is done. The period is kept by a ticker, so the time fn
// takes does not stretch it.
func every(ctx context.Context, period time.Duration, fn func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sampleCurrent delivers analog readings to a phase sample handler at the tick rate.
func (m *Motor) sampleCurrent(ctx context.Context, analog board.Analog, handle func(uint16), period time.Duration) {
	var failing bool
	every(ctx, period, func() {
		raw, err := readRaw(ctx, analog)
		if err == nil {
			handle(raw)
		} else if !failing && ctx.Err() == nil {
			m.logger.CError(ctx, errors.Wrap(err, "current read failed"))
		}
		failing = err != nil
	})
}

// flushOutputs pushes latched outputs to the board and feeds the tracking error average.
func (m *Motor) flushOutputs(ctx context.Context, ms *mission, period time.Duration) {
	var failing bool
	every(ctx, period, func() {
		err := ms.outputs.flush(ctx)
		if err != nil && !failing && ctx.Err() == nil {
			m.logger.CError(ctx, errors.Wrap(err, "output write failed"))
		}
		failing = err != nil
		if st := ms.rig.Status(); st.State == fblin.Running && st.Tick > 0 {
			m.tracking.add(st.TrackingError)
		}
	})
}
