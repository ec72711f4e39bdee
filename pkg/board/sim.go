package board

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
)

// SimPin is an in-memory Pin. It records the last level and PWM setting so
// tests can inspect what a driver wrote.
type SimPin struct {
	name string

	mu     sync.Mutex
	level  gpio.Level
	duty   gpio.Duty
	freq   physic.Frequency
	halted bool
	writes int
	// FailWith, when set, is returned by every write.
	FailWith error
}

func NewSimPin(name string) *SimPin {
	return &SimPin{name: name}
}

func (p *SimPin) String() string { return fmt.Sprintf("sim(%s)", p.name) }

func (p *SimPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	p.level = l
	p.halted = false
	p.writes++
	logrus.WithFields(logrus.Fields{"pin": p.name, "level": l}).Trace("sim pin out")
	return nil
}

func (p *SimPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	p.duty = duty
	p.freq = f
	p.halted = false
	p.writes++
	logrus.WithFields(logrus.Fields{"pin": p.name, "duty": duty, "freq": f}).Trace("sim pin pwm")
	return nil
}

func (p *SimPin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = true
	p.duty = 0
	return nil
}

// Level returns the last level written with Out.
func (p *SimPin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Duty returns the last PWM duty and frequency.
func (p *SimPin) Duty() (gpio.Duty, physic.Frequency) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty, p.freq
}

// Halted reports whether Halt was called after the last write.
func (p *SimPin) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Writes returns the number of successful writes.
func (p *SimPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// simIMU reports a level, motionless sensor with a little noise.
type simIMU struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// SimIMUOpener returns an Opener for a simulated sensor. rnd may be nil.
func SimIMUOpener(rnd *rand.Rand) imu.Opener {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return func() (imu.Device, error) {
		return &simIMU{rnd: rnd}, nil
	}
}

func (s *simIMU) Read() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	noise := func(scale float64) float64 { return (s.rnd.Float64()*2 - 1) * scale }
	return imu.Sample{
		Ax: noise(0.01),
		Ay: noise(0.01),
		Az: 1 + noise(0.01),
		Gx: noise(0.5),
		Gy: noise(0.5),
		Gz: noise(0.5),
	}, nil
}

func (s *simIMU) Close() error { return nil }
