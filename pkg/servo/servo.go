// Package servo drives a hobby servo on a PWM-capable GPIO line.
//
// WriteAngle is a lock-free single-step write. Callers that interleave it with
// locked sequences own the coordination; the combo routines do this under the
// Combo lock. RotateTo and the named routines hold the Servo lock for their
// whole duration.
package servo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
)

const (
	MinAngle  = 0
	MaxAngle  = 180
	RestAngle = 90

	// DefaultSettle is how long RotateTo holds the lock after writing so the
	// horn can reach its position.
	DefaultSettle = 500 * time.Millisecond

	frequency   = 50 * physic.Hertz
	period      = 20 * time.Millisecond
	minPulse    = 500 * time.Microsecond
	maxPulse    = 2500 * time.Microsecond
	pulsePerDeg = (maxPulse - minPulse) / MaxAngle
)

// Output is a PWM-capable line. Any periph gpio.PinIO satisfies it.
type Output interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// Options tunes a Servo. Zero values pick the defaults.
type Options struct {
	Settle time.Duration
	// Sleep replaces time.Sleep, mostly for tests.
	Sleep func(time.Duration)
	Rand  *rand.Rand
}

// Servo is a positional servo.
type Servo struct {
	out    Output
	locks  *locks.Manager
	settle time.Duration
	sleep  func(time.Duration)

	rndMu sync.Mutex
	rnd   *rand.Rand

	// writeMu serializes writes to the line. It is held only for the duration
	// of one PWM call.
	writeMu     sync.Mutex
	initialized bool

	current atomic.Int32
}

// New returns a Servo. The line is not touched until the first write.
func New(out Output, lm *locks.Manager, opts Options) *Servo {
	s := &Servo{
		out:    out,
		locks:  lm,
		settle: opts.Settle,
		sleep:  opts.Sleep,
		rnd:    opts.Rand,
	}
	if s.settle <= 0 {
		s.settle = DefaultSettle
	}
	if s.sleep == nil {
		s.sleep = time.Sleep
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.current.Store(RestAngle)
	return s
}

// Clamp limits angle to [MinAngle, MaxAngle].
func Clamp(angle int) int {
	return min(max(angle, MinAngle), MaxAngle)
}

// Duty converts an angle to the PWM duty cycle for a 500-2500µs pulse at 50Hz.
func Duty(angle int) gpio.Duty {
	pulse := minPulse + time.Duration(Clamp(angle))*pulsePerDeg
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(period))
}

// CurrentAngle returns the last commanded angle.
func (s *Servo) CurrentAngle() int {
	return int(s.current.Load())
}

// WriteAngle clamps angle, writes it immediately and returns the clamped
// value. It does not take the Servo lock.
func (s *Servo) WriteAngle(angle int) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ensureInitializedLocked(); err != nil {
		return s.CurrentAngle(), err
	}
	return s.writeLocked(angle)
}

// ensureInitializedLocked moves the servo to rest the first time it is used.
func (s *Servo) ensureInitializedLocked() error {
	if s.initialized {
		return nil
	}
	if _, err := s.writeLocked(RestAngle); err != nil {
		return pkgerrors.Wrap(err, "failed to initialize servo")
	}
	s.initialized = true
	logrus.WithField("output", s.out).Info("servo initialized")
	return nil
}

func (s *Servo) writeLocked(angle int) (int, error) {
	angle = Clamp(angle)
	if err := s.out.PWM(Duty(angle), frequency); err != nil {
		return s.CurrentAngle(), pkgerrors.Wrapf(err, "failed to write servo angle %d", angle)
	}
	s.current.Store(int32(angle))
	logrus.WithField("angle", angle).Trace("servo angle written")
	return angle, nil
}

// RotateTo writes angle under the Servo lock and holds the lock for the settle
// delay, so concurrent callers observe each other's moves in order.
func (s *Servo) RotateTo(ctx context.Context, angle int) (int, error) {
	release, err := s.locks.Acquire(ctx, locks.Servo)
	if err != nil {
		return s.CurrentAngle(), err
	}
	defer release()

	got, err := s.WriteAngle(angle)
	if err != nil {
		return got, err
	}
	s.sleep(s.settle)
	return got, nil
}

// AdjustBy moves the servo delta degrees from its current angle. The base
// angle is read under the Servo lock, so concurrent adjustments compose.
func (s *Servo) AdjustBy(ctx context.Context, delta int) (int, error) {
	release, err := s.locks.Acquire(ctx, locks.Servo)
	if err != nil {
		return s.CurrentAngle(), err
	}
	defer release()

	got, err := s.WriteAngle(s.CurrentAngle() + delta)
	if err != nil {
		return got, err
	}
	s.sleep(s.settle)
	return got, nil
}

// Close stops the PWM output. A later write reinitializes the servo.
func (s *Servo) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false
	if err := s.out.Halt(); err != nil {
		return pkgerrors.Wrap(err, "failed to halt servo output")
	}
	return nil
}

func (s *Servo) intn(lo, hi int) int {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return lo + s.rnd.Intn(hi-lo)
}
