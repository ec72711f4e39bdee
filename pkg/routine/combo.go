package routine

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
)

// comboFunc runs with the Combo lock held and must only use the lock-free
// actuator writes.
type comboFunc func(e *Executor) error

var combos = map[string]comboFunc{
	"party":       party,
	"countdown":   countdown,
	"alarm":       alarm,
	"celebration": celebration,
	"pulse-sync":  pulseSync,
	"guard-sweep": guardSweep,
	"random-show": randomShow,
}

// Combos returns the combo routine names in sorted order.
func Combos() []string { return sortedKeys(combos) }

// HasCombo reports whether name is a combo routine.
func HasCombo(name string) bool {
	_, ok := combos[name]
	return ok
}

// Combo runs the named combo routine under the Combo lock.
func (e *Executor) Combo(ctx context.Context, name string) error {
	fn, ok := combos[name]
	if !ok {
		return pkgerrors.Wrapf(ErrUnknownCombo, "%q", name)
	}

	start := time.Now()
	err := e.locks.WithLock(ctx, locks.Combo, func() error { return fn(e) })
	e.report(KindCombo, name, start, err)
	return err
}

// seq runs actions in order and stops at the first error.
func seq(actions ...func() error) error {
	for _, a := range actions {
		if err := a(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) angle(a int) func() error {
	return func() error {
		_, err := e.servo.WriteAngle(a)
		return err
	}
}

func (e *Executor) on() func() error  { return e.led.TurnOn }
func (e *Executor) off() func() error { return e.led.TurnOff }

func (e *Executor) wait(ms int) func() error {
	return func() error {
		e.sleep(time.Duration(ms) * time.Millisecond)
		return nil
	}
}

func (e *Executor) blink(onMs, offMs int) func() error {
	return func() error {
		return seq(e.on(), e.wait(onMs), e.off(), e.wait(offMs))
	}
}

func party(e *Executor) error {
	for i := 0; i < 16; i++ {
		if err := seq(e.angle(e.intn(0, 181)), e.blink(90, 90)); err != nil {
			return err
		}
	}
	return nil
}

func countdown(e *Executor) error {
	for _, a := range []int{180, 120, 60, 0} {
		if err := seq(e.angle(a), e.blink(350, 220)); err != nil {
			return err
		}
	}
	for i := 0; i < 5; i++ {
		if err := e.blink(80, 80)(); err != nil {
			return err
		}
	}
	return e.angle(90)()
}

func alarm(e *Executor) error {
	for i := 0; i < 8; i++ {
		a := 160
		if i%2 == 0 {
			a = 20
		}
		if err := seq(e.angle(a), e.blink(160, 140)); err != nil {
			return err
		}
	}
	return e.angle(90)()
}

func celebration(e *Executor) error {
	for i := 0; i < 10; i++ {
		if err := seq(e.angle(e.intn(0, 181)), e.blink(60+(i%3)*20, 60+((i+1)%3)*20)); err != nil {
			return err
		}
	}
	return nil
}

func pulseSync(e *Executor) error {
	tempo := []int{90, 60, 120, 60}
	for cycle := 0; cycle < 4; cycle++ {
		t := tempo[cycle%len(tempo)]
		if err := seq(
			e.angle(80), e.on(), e.wait(t),
			e.angle(100), e.wait(t),
			e.off(), e.wait(t+80),
		); err != nil {
			return err
		}
	}
	return e.angle(90)()
}

func guardSweep(e *Executor) error {
	for _, a := range []int{20, 60, 120, 160, 120, 60, 20} {
		if err := seq(e.angle(a), e.blink(260, 180)); err != nil {
			return err
		}
	}
	return e.angle(90)()
}

func randomShow(e *Executor) error {
	for i := 0; i < 12; i++ {
		level := e.off()
		if e.float() > 0.5 {
			level = e.on()
		}
		if err := seq(e.angle(e.intn(0, 181)), level, e.wait(e.intn(120, 360))); err != nil {
			return err
		}
	}
	return seq(e.off(), e.angle(90))
}
