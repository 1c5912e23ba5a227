package fblin

import (
	"strings"

	"github.com/pkg/errors"
)

// LogPolicy decides what happens once the sample buffer is full.
type LogPolicy int

// Log policies.
const (
	// LogStop keeps the first Capacity samples and drops the rest.
	LogStop LogPolicy = iota
	// LogWrap overwrites the oldest sample.
	LogWrap
	// LogFailFast rejects the write with ErrLogFull; the Rig ends the run.
	LogFailFast
)

// ErrLogFull is returned by a LogFailFast log that has no room left.
var ErrLogFull = errors.New("sample log is full")

var logPolicyNames = map[LogPolicy]string{
	LogStop:     "stop",
	LogWrap:     "wrap",
	LogFailFast: "fail_fast",
}

func (p LogPolicy) String() string {
	if s, ok := logPolicyNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p LogPolicy) validate() error {
	if _, ok := logPolicyNames[p]; !ok {
		return errors.Errorf("unknown log policy %d", int(p))
	}
	return nil
}

// ParseLogPolicy parses the name of a policy; the empty string is LogStop.
func ParseLogPolicy(s string) (LogPolicy, error) {
	if s == "" {
		return LogStop, nil
	}
	for p, name := range logPolicyNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return LogStop, errors.Errorf("unknown log policy %q, want one of stop, wrap, fail_fast", s)
}

// Sample is one logged control cycle.
type Sample struct {
	Tick            int64   `json:"tick"`
	Time            float64 `json:"time"`
	Angle           float64 `json:"angle"`
	AngularVelocity float64 `json:"angular_velocity"`
	CurrentA        float64 `json:"current_a"`
	CurrentB        float64 `json:"current_b"`
	VoltageA        float64 `json:"voltage_a"`
	VoltageB        float64 `json:"voltage_b"`
}

// SampleLog records every other tick into a buffer allocated once.
type SampleLog struct {
	buf     []Sample
	cursor  int
	wrapped bool
	skip    bool
	dropped int
	policy  LogPolicy
}

// NewSampleLog allocates a log of the given capacity.
func NewSampleLog(capacity int, policy LogPolicy) *SampleLog {
	return &SampleLog{
		buf:    make([]Sample, capacity),
		policy: policy,
	}
}

// Record is called once per tick. It stores s on alternating calls, starting with the first.
// It reports whether s was stored.
func (l *SampleLog) Record(s Sample) (bool, error) {
	skip := l.skip
	l.skip = !l.skip
	if skip {
		return false, nil
	}
	if l.cursor == len(l.buf) {
		switch l.policy {
		case LogWrap:
			l.cursor = 0
			l.wrapped = true
		case LogFailFast:
			l.dropped++
			return false, ErrLogFull
		default:
			l.dropped++
			return false, nil
		}
	}
	l.buf[l.cursor] = s
	l.cursor++
	return true, nil
}

// Len is the number of samples held.
func (l *SampleLog) Len() int {
	if l.wrapped {
		return len(l.buf)
	}
	return l.cursor
}

// Cap is the fixed capacity.
func (l *SampleLog) Cap() int {
	return len(l.buf)
}

// Dropped counts the decimated writes that found the buffer full.
func (l *SampleLog) Dropped() int {
	return l.dropped
}

// Samples returns a copy of the held samples, oldest first.
func (l *SampleLog) Samples() []Sample {
	out := make([]Sample, 0, l.Len())
	if l.wrapped {
		out = append(out, l.buf[l.cursor:]...)
	}
	return append(out, l.buf[:l.cursor]...)
}
