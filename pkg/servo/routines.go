package servo

import (
	"context"
	"math"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
)

// ErrUnknownRoutine is returned by Run for a name that is not registered.
var ErrUnknownRoutine = pkgerrors.New("unknown servo routine")

// Step is one position of a routine followed by a hold.
type Step struct {
	Angle int
	Hold  time.Duration
}

type routineFunc func(s *Servo) []Step

var routines = map[string]routineFunc{
	"wave":          func(*Servo) []Step { return WaveSteps(5, 90*time.Millisecond) },
	"smooth-sweep":  smoothSweep,
	"random-dance":  randomDance,
	"jitter":        jitter,
	"pose-sequence": poseSequence,
	"micro-sweep":   microSweep,
	"slow-pan":      slowPan,
	"double-wave":   doubleWave,
	"focus-sweep":   focusSweep,
	"sine-ride":     sineRide,
	"random-pause":  randomPause,
	"edge-pulse":    edgePulse,
	"drum-roll":     drumRoll,
	"spin-cycle":    spinCycle,
	"heartbeat":     heartbeat,
	"rain-drop":     rainDrop,
}

// Routines returns the registered routine names in sorted order.
func Routines() []string {
	names := make([]string, 0, len(routines))
	for name := range routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered routine.
func Has(name string) bool {
	_, ok := routines[name]
	return ok
}

// Run executes the named routine under the Servo lock.
func (s *Servo) Run(ctx context.Context, name string) error {
	fn, ok := routines[name]
	if !ok {
		return pkgerrors.Wrapf(ErrUnknownRoutine, "%q", name)
	}
	return s.RunSteps(ctx, name, fn(s))
}

// RunSteps plays steps under the Servo lock. The first failed write aborts the
// sequence.
func (s *Servo) RunSteps(ctx context.Context, name string, steps []Step) error {
	return s.locks.WithLock(ctx, locks.Servo, func() error {
		logrus.WithFields(logrus.Fields{"routine": name, "steps": len(steps)}).Debug("servo routine start")
		start := time.Now()
		for _, st := range steps {
			if _, err := s.WriteAngle(st.Angle); err != nil {
				return pkgerrors.Wrapf(err, "servo routine %s", name)
			}
			if st.Hold > 0 {
				s.sleep(st.Hold)
			}
		}
		logrus.WithFields(logrus.Fields{"routine": name, "elapsed": time.Since(start)}).Debug("servo routine end")
		return nil
	})
}

// sweep covers from..to inclusive in increments of step.
func sweep(from, to, step int, hold time.Duration) []Step {
	var steps []Step
	if from <= to {
		for a := from; a <= to; a += step {
			steps = append(steps, Step{a, hold})
		}
	} else {
		for a := from; a >= to; a -= step {
			steps = append(steps, Step{a, hold})
		}
	}
	return steps
}

func repeat(n int, fn func(i int) []Step) []Step {
	var steps []Step
	for i := 0; i < n; i++ {
		steps = append(steps, fn(i)...)
	}
	return steps
}

func WaveSteps(cycles int, delay time.Duration) []Step {
	steps := []Step{{0, delay}}
	return append(steps, repeat(cycles, func(int) []Step {
		return []Step{{180, delay}, {0, delay}}
	})...)
}

func smoothSweep(*Servo) []Step {
	const hold = 12 * time.Millisecond
	return append(sweep(0, 180, 1, hold), sweep(180, 0, 1, hold)...)
}

func randomDance(s *Servo) []Step {
	return repeat(15, func(int) []Step {
		return []Step{{s.intn(0, 181), time.Duration(s.intn(120, 260)) * time.Millisecond}}
	})
}

func jitter(*Servo) []Step {
	offsets := []int{-25, 25, -40, 40, -15, 15, -5, 5, 0}
	return repeat(3, func(int) []Step {
		var steps []Step
		for _, o := range offsets {
			steps = append(steps, Step{Clamp(RestAngle + o), 70 * time.Millisecond})
		}
		return steps
	})
}

func poseSequence(*Servo) []Step {
	var steps []Step
	for _, a := range []int{0, 60, 120, 180, 120, 60, 0, 90} {
		steps = append(steps, Step{a, 220 * time.Millisecond})
	}
	return steps
}

func microSweep(*Servo) []Step {
	const hold = 25 * time.Millisecond
	steps := repeat(3, func(int) []Step {
		return append(sweep(60, 120, 2, hold), sweep(120, 60, 2, hold)...)
	})
	return append(steps, Step{RestAngle, 0})
}

func slowPan(*Servo) []Step {
	return sweep(0, 180, 5, 80*time.Millisecond)
}

func doubleWave(*Servo) []Step {
	const hold = 40 * time.Millisecond
	return repeat(2, func(int) []Step {
		return append(sweep(0, 180, 10, hold), sweep(180, 0, 10, hold)...)
	})
}

func focusSweep(*Servo) []Step {
	const hold = 110 * time.Millisecond
	var steps []Step
	for amp := 60; amp >= 15; amp -= 15 {
		steps = append(steps, Step{Clamp(RestAngle - amp), hold}, Step{Clamp(RestAngle + amp), hold})
	}
	return append(steps, Step{RestAngle, 0})
}

func sineAngle(deg int) int {
	return Clamp(int(90 + 90*math.Sin(float64(deg)*math.Pi/180)))
}

func sineRide(*Servo) []Step {
	const hold = 45 * time.Millisecond
	var steps []Step
	for deg := 0; deg <= 360; deg += 15 {
		steps = append(steps, Step{sineAngle(deg), hold})
	}
	for deg := 360; deg >= 0; deg -= 15 {
		steps = append(steps, Step{sineAngle(deg), hold})
	}
	return append(steps, Step{RestAngle, 0})
}

func randomPause(s *Servo) []Step {
	return repeat(12, func(int) []Step {
		return []Step{{s.intn(0, 181), time.Duration(s.intn(180, 520)) * time.Millisecond}}
	})
}

func edgePulse(*Servo) []Step {
	const hold = 120 * time.Millisecond
	steps := repeat(4, func(int) []Step {
		return []Step{{5, hold}, {175, hold}, {10, hold}, {170, hold}}
	})
	return append(steps, Step{RestAngle, 0})
}

func drumRoll(*Servo) []Step {
	steps := repeat(3, func(cycle int) []Step {
		base := 30 + 30*cycle
		return repeat(18, func(i int) []Step {
			if i%2 == 0 {
				return []Step{{base + 20, 35 * time.Millisecond}}
			}
			return []Step{{base - 20, 35 * time.Millisecond}}
		})
	})
	return append(steps, Step{RestAngle, 0})
}

func spinCycle(*Servo) []Step {
	const hold = 22 * time.Millisecond
	steps := repeat(4, func(int) []Step {
		return append(sweep(0, 180, 6, hold), sweep(180, 0, 6, hold)...)
	})
	return append(steps, Step{RestAngle, 0})
}

func heartbeat(*Servo) []Step {
	return repeat(4, func(int) []Step {
		return []Step{
			{120, 90 * time.Millisecond},
			{150, 70 * time.Millisecond},
			{110, 150 * time.Millisecond},
			{90, 220 * time.Millisecond},
		}
	})
}

func rainDrop(*Servo) []Step {
	const hold = 130 * time.Millisecond
	var steps []Step
	for _, amp := range []int{10, 25, 45, 15, 30, 50, 20} {
		steps = append(steps, Step{Clamp(RestAngle + amp), hold}, Step{Clamp(RestAngle - amp/2), hold})
	}
	return append(steps, Step{RestAngle, 0})
}
