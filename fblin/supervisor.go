package fblin

// RunState is the supervisor state.
type RunState int32

// Run states. The only transition is Running -> Stopped.
const (
	Running RunState = iota
	Stopped
)

func (s RunState) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// StopReason records why a run ended.
type StopReason int32

// Stop reasons.
const (
	StopNone StopReason = iota
	StopMissionComplete
	StopAborted
	StopLogFull
)

func (r StopReason) String() string {
	switch r {
	case StopMissionComplete:
		return "mission_complete"
	case StopAborted:
		return "aborted"
	case StopLogFull:
		return "log_full"
	default:
		return "none"
	}
}

// Supervisor ends the run when the tick count reaches the mission length and toggles the
// heartbeat while running.
type Supervisor struct {
	missionTicks int64
	state        RunState
	reason       StopReason
	heartbeat    Pin
	beat         bool
}

// NewSupervisor returns a running supervisor. heartbeat may be nil.
func NewSupervisor(p Params, heartbeat Pin) *Supervisor {
	return &Supervisor{
		missionTicks: p.MissionTicks(),
		heartbeat:    heartbeat,
	}
}

// Due reports whether tick is at or past the end of the mission.
func (s *Supervisor) Due(tick int64) bool {
	return tick >= s.missionTicks
}

// Beat toggles the heartbeat. It does nothing once stopped.
func (s *Supervisor) Beat() {
	if s.state != Running || s.heartbeat == nil {
		return
	}
	s.beat = !s.beat
	s.heartbeat.Set(s.beat)
}

// Stop moves to Stopped. It reports false if the supervisor was already stopped.
func (s *Supervisor) Stop(reason StopReason) bool {
	if s.state == Stopped {
		return false
	}
	s.state = Stopped
	s.reason = reason
	return true
}

// State returns the current state.
func (s *Supervisor) State() RunState {
	return s.state
}

// Reason returns why the run stopped, or StopNone.
func (s *Supervisor) Reason() StopReason {
	return s.reason
}
