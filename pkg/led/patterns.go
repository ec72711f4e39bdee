package led

import (
	"context"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
)

var (
	// ErrUnknownPattern is returned by Run for a name that is not registered.
	ErrUnknownPattern = pkgerrors.New("unknown LED pattern")
	// ErrInvalidFlash is returned by PatternFlash for negative arguments.
	ErrInvalidFlash = pkgerrors.New("invalid flash parameters")
)

// Step is one level of a pattern followed by a hold.
type Step struct {
	On   bool
	Hold time.Duration
}

type patternFunc func(l *Led) []Step

var patterns = map[string]patternFunc{
	"strobe":         strobe,
	"pulse":          pulse,
	"sos":            sos,
	"breathing":      breathing,
	"blink-burst":    blinkBurst,
	"random-sparkle": randomSparkle,
	"long-flash":     longFlash,
	"twinkle":        twinkle,
}

// Patterns returns the registered pattern names in sorted order.
func Patterns() []string {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered pattern.
func Has(name string) bool {
	_, ok := patterns[name]
	return ok
}

// Run plays the named pattern under the Led lock.
func (l *Led) Run(ctx context.Context, name string) error {
	fn, ok := patterns[name]
	if !ok {
		return pkgerrors.Wrapf(ErrUnknownPattern, "%q", name)
	}
	return l.RunSteps(ctx, name, fn(l))
}

// PatternFlash blinks flashes times with the given on and off durations.
func (l *Led) PatternFlash(ctx context.Context, flashes int, on, off time.Duration) error {
	if flashes < 0 || on < 0 || off < 0 {
		return pkgerrors.Wrapf(ErrInvalidFlash, "flashes=%d on=%s off=%s", flashes, on, off)
	}
	return l.RunSteps(ctx, "flash", Flashes(flashes, on, off))
}

// RunSteps plays steps under the Led lock. The first failed write aborts the
// pattern.
func (l *Led) RunSteps(ctx context.Context, name string, steps []Step) error {
	return l.locks.WithLock(ctx, locks.Led, func() error {
		logrus.WithFields(logrus.Fields{"pattern": name, "steps": len(steps)}).Debug("LED pattern start")
		for _, st := range steps {
			if err := l.write(st.On); err != nil {
				return pkgerrors.Wrapf(err, "LED pattern %s", name)
			}
			if st.Hold > 0 {
				l.sleep(st.Hold)
			}
		}
		logrus.WithField("pattern", name).Debug("LED pattern end")
		return nil
	})
}

// Flashes builds n on/off pairs.
func Flashes(n int, on, off time.Duration) []Step {
	steps := make([]Step, 0, 2*n)
	for i := 0; i < n; i++ {
		steps = append(steps, Step{true, on}, Step{false, off})
	}
	return steps
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func strobe(*Led) []Step {
	return Flashes(20, ms(60), ms(60))
}

func pulse(*Led) []Step {
	var steps []Step
	for _, w := range []int{80, 140, 220, 320, 220, 140, 80} {
		steps = append(steps, Step{true, ms(w)}, Step{false, ms(120)})
	}
	return steps
}

func sos(*Led) []Step {
	const dot = 150
	const dash = dot * 3
	letter := func(d int) []Step { return Flashes(3, ms(d), ms(dot)) }

	var steps []Step
	steps = append(steps, letter(dot)...)
	steps = append(steps, Step{false, ms(dash)})
	steps = append(steps, letter(dash)...)
	steps = append(steps, Step{false, ms(dash)})
	steps = append(steps, letter(dot)...)
	return steps
}

func breathing(*Led) []Step {
	rise := []int{20, 40, 60, 80, 100, 120, 140, 160, 180}
	var steps []Step
	for cycle := 0; cycle < 2; cycle++ {
		for _, on := range rise {
			steps = append(steps, Step{true, ms(on)}, Step{false, ms(200 - min(on, 180))})
		}
		for i := len(rise) - 1; i >= 0; i-- {
			on := rise[i]
			steps = append(steps, Step{true, ms(on)}, Step{false, ms(200 - min(on, 180))})
		}
	}
	return steps
}

func blinkBurst(*Led) []Step {
	var steps []Step
	for burst := 0; burst < 3; burst++ {
		steps = append(steps, Flashes(5, ms(70), ms(70))...)
		steps = append(steps, Step{false, ms(320)})
	}
	return steps
}

func randomSparkle(l *Led) []Step {
	var steps []Step
	for i := 0; i < 18; i++ {
		steps = append(steps, Step{true, ms(l.intn(40, 150))}, Step{false, ms(l.intn(90, 260))})
	}
	return steps
}

func longFlash(*Led) []Step {
	return Flashes(3, ms(700), ms(200))
}

func twinkle(*Led) []Step {
	var steps []Step
	for i := 0; i < 12; i++ {
		steps = append(steps, Step{true, ms(40 + 10*(i%4))}, Step{false, ms(140 + 20*(i%3))})
	}
	return steps
}
