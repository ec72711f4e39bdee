// Package led drives a single LED on a GPIO line.
//
// TurnOn and TurnOff are lock-free single-step writes. Patterns hold the Led
// lock for their whole duration.
package led

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
)

// DefaultThrottleWindow is the minimum spacing between admitted patterns.
const DefaultThrottleWindow = 200 * time.Millisecond

// Output is a digital output line. Any periph gpio.PinIO satisfies it.
type Output interface {
	Out(l gpio.Level) error
	Halt() error
}

// Options tunes a Led. Zero values pick the defaults.
type Options struct {
	ThrottleWindow time.Duration
	Sleep          func(time.Duration)
	Now            func() time.Time
	Rand           *rand.Rand
}

// Led is a single LED.
type Led struct {
	out    Output
	locks  *locks.Manager
	window time.Duration
	sleep  func(time.Duration)
	now    func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	throttleMu  sync.Mutex
	lastPattern time.Time

	writeMu sync.Mutex
	on      atomic.Bool
}

// New returns a Led. The line is not touched until the first write.
func New(out Output, lm *locks.Manager, opts Options) *Led {
	l := &Led{
		out:    out,
		locks:  lm,
		window: opts.ThrottleWindow,
		sleep:  opts.Sleep,
		now:    opts.Now,
		rnd:    opts.Rand,
	}
	if l.window <= 0 {
		l.window = DefaultThrottleWindow
	}
	if l.sleep == nil {
		l.sleep = time.Sleep
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.rnd == nil {
		l.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return l
}

// IsOn reports the last level written.
func (l *Led) IsOn() bool {
	return l.on.Load()
}

// TurnOn drives the line high without taking the Led lock.
func (l *Led) TurnOn() error {
	return l.write(true)
}

// TurnOff drives the line low without taking the Led lock.
func (l *Led) TurnOff() error {
	return l.write(false)
}

func (l *Led) write(on bool) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.out.Out(gpio.Level(on)); err != nil {
		return pkgerrors.Wrapf(err, "failed to drive LED %s", onOff(on))
	}
	l.on.Store(on)
	logrus.WithField("on", on).Trace("LED written")
	return nil
}

// Throttled reports whether the previous admitted pattern started less than the
// throttle window ago. When it returns false the current time is recorded, so
// the check and the reset are one atomic step.
func (l *Led) Throttled() bool {
	l.throttleMu.Lock()
	defer l.throttleMu.Unlock()

	now := l.now()
	if !l.lastPattern.IsZero() && now.Sub(l.lastPattern) < l.window {
		return true
	}
	l.lastPattern = now
	return false
}

// Close drives the line low and releases it.
func (l *Led) Close() error {
	if err := l.TurnOff(); err != nil {
		logrus.WithError(err).Warn("failed to turn LED off before closing")
	}
	if err := l.out.Halt(); err != nil {
		return pkgerrors.Wrap(err, "failed to halt LED output")
	}
	return nil
}

func (l *Led) intn(lo, hi int) int {
	l.rndMu.Lock()
	defer l.rndMu.Unlock()
	return lo + l.rnd.Intn(hi-lo)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
