package fblin

type fakeEncoder struct {
	count int64
}

func (e *fakeEncoder) Count() int64 { return e.count }

type fakePWM struct {
	period  uint32
	compare uint32
	writes  int
}

func (p *fakePWM) Period() uint32 { return p.period }

func (p *fakePWM) SetCompare(compare uint32) {
	p.compare = compare
	p.writes++
}

type fakePin struct {
	high bool
	sets int
}

func (p *fakePin) Set(high bool) {
	p.high = high
	p.sets++
}

type fakeClock struct {
	stops int
}

func (c *fakeClock) Stop() { c.stops++ }

type fakeRig struct {
	enc              *fakeEncoder
	pwmA, pwmB       *fakePWM
	dirA, dirB, beat *fakePin
	clock            *fakeClock
}

func newFakeHardware() (*fakeRig, Hardware) {
	f := &fakeRig{
		enc:   &fakeEncoder{},
		pwmA:  &fakePWM{period: DefaultPWMPeriod},
		pwmB:  &fakePWM{period: DefaultPWMPeriod},
		dirA:  &fakePin{},
		dirB:  &fakePin{},
		beat:  &fakePin{},
		clock: &fakeClock{},
	}
	return f, Hardware{
		Encoder:   f.enc,
		PWMA:      f.pwmA,
		PWMB:      f.pwmB,
		DirA:      f.dirA,
		DirB:      f.dirB,
		Heartbeat: f.beat,
		Clock:     f.clock,
	}
}
