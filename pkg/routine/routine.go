// Package routine choreographs the servo, the LED and the motion sensor.
//
// Combo routines hold the Combo lock and drive both actuators through their
// lock-free single-step writes. Gyro routines read the sensor and then either
// run a locked actuator sequence or perform a single-step write.
package routine

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/led"
	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
)

var (
	ErrUnknownCombo   = pkgerrors.New("unknown combo routine")
	ErrUnknownGyro    = pkgerrors.New("unknown gyro routine")
	ErrUnknownRoutine = pkgerrors.New("unknown routine")
)

// Result is the outcome of a gyro routine. OK is false when the routine ran but
// its trigger condition was not met.
type Result struct {
	Name        string `json:"name"`
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Data        any    `json:"data,omitempty"`
}

// Options tunes an Executor. Zero values pick the defaults.
type Options struct {
	Sleep func(time.Duration)
	Rand  *rand.Rand
}

// Executor runs routines against one set of peripherals.
type Executor struct {
	locks  *locks.Manager
	servo  *servo.Servo
	led    *led.Led
	sensor *imu.Sensor
	sleep  func(time.Duration)

	rndMu sync.Mutex
	rnd   *rand.Rand

	// OnRun, if set, is called after every routine with its kind, name and
	// error. Used to publish events.
	OnRun func(kind, name string, err error)
}

func New(lm *locks.Manager, s *servo.Servo, l *led.Led, sensor *imu.Sensor, opts Options) *Executor {
	e := &Executor{
		locks:  lm,
		servo:  s,
		led:    l,
		sensor: sensor,
		sleep:  opts.Sleep,
		rnd:    opts.Rand,
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

func (e *Executor) intn(lo, hi int) int {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return lo + e.rnd.Intn(hi-lo)
}

func (e *Executor) float() float64 {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.rnd.Float64()
}

func (e *Executor) report(kind, name string, start time.Time, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"kind":    kind,
		"name":    name,
		"elapsed": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Warn("routine failed")
	} else {
		entry.Info("routine finished")
	}
	if e.OnRun != nil {
		e.OnRun(kind, name, err)
	}
}

// Kinds of routines understood by Run.
const (
	KindServo = "servo"
	KindLed   = "led"
	KindCombo = "combo"
	KindGyro  = "gyro"
)

// Catalog lists every routine name by kind.
type Catalog struct {
	Servo []string `json:"servo"`
	Led   []string `json:"led"`
	Combo []string `json:"combo"`
	Gyro  []string `json:"gyro"`
}

// List returns the routine catalog.
func List() Catalog {
	return Catalog{
		Servo: servo.Routines(),
		Led:   led.Patterns(),
		Combo: Combos(),
		Gyro:  Gyros(),
	}
}

// Run dispatches a routine by kind and name. It is used by the scheduler,
// which stores routines as "kind/name".
func (e *Executor) Run(ctx context.Context, kind, name string) error {
	start := time.Now()
	var err error
	switch kind {
	case KindServo:
		err = e.servo.Run(ctx, name)
	case KindLed:
		err = e.led.Run(ctx, name)
	case KindCombo:
		return e.Combo(ctx, name)
	case KindGyro:
		_, err := e.Gyro(ctx, name)
		return err
	default:
		return pkgerrors.Wrapf(ErrUnknownRoutine, "%s/%s", kind, name)
	}
	e.report(kind, name, start, err)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
