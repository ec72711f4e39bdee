package routine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/Pcarioca/Raspberry-Control/pkg/board"
	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/led"
	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
)

type fixedDevice struct {
	mu     sync.Mutex
	sample imu.Sample
}

func (d *fixedDevice) Read() (imu.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sample, nil
}

func (d *fixedDevice) Close() error { return nil }

type rig struct {
	exec     *Executor
	servoPin *board.SimPin
	ledPin   *board.SimPin
	servo    *servo.Servo
	led      *led.Led
	locks    *locks.Manager
}

func newRig(t *testing.T, open imu.Opener) *rig {
	t.Helper()
	noSleep := func(time.Duration) {}
	lm := locks.New()
	sp := board.NewSimPin("servo")
	lp := board.NewSimPin("led")
	s := servo.New(sp, lm, servo.Options{Sleep: noSleep, Rand: rand.New(rand.NewSource(1))})
	l := led.New(lp, lm, led.Options{Sleep: noSleep, Rand: rand.New(rand.NewSource(1))})
	sensor := imu.New(lm, open, nil)
	return &rig{
		exec:     New(lm, s, l, sensor, Options{Sleep: noSleep, Rand: rand.New(rand.NewSource(1))}),
		servoPin: sp,
		ledPin:   lp,
		servo:    s,
		led:      l,
		locks:    lm,
	}
}

func deviceOpener(s imu.Sample) imu.Opener {
	dev := &fixedDevice{sample: s}
	return func() (imu.Device, error) { return dev, nil }
}

func missingOpener() (imu.Device, error) {
	return nil, errors.New("no device at 0x68")
}

func TestCombosRunAndReturnToRest(t *testing.T) {
	for _, name := range Combos() {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, missingOpener)
			if err := r.exec.Combo(context.Background(), name); err != nil {
				t.Fatalf("Combo(%q) error = %v", name, err)
			}
			if r.led.IsOn() {
				t.Fatal("combo left LED on")
			}
			if r.servoPin.Writes() == 0 {
				t.Fatal("combo did not move the servo")
			}
		})
	}
}

func TestComboEndsCentered(t *testing.T) {
	for _, name := range []string{"countdown", "alarm", "pulse-sync", "guard-sweep", "random-show"} {
		r := newRig(t, missingOpener)
		if err := r.exec.Combo(context.Background(), name); err != nil {
			t.Fatal(err)
		}
		if r.servo.CurrentAngle() != servo.RestAngle {
			t.Errorf("%s: CurrentAngle() = %d, want %d", name, r.servo.CurrentAngle(), servo.RestAngle)
		}
	}
}

func TestComboHoldsComboLock(t *testing.T) {
	r := newRig(t, missingOpener)
	release, err := r.locks.Acquire(context.Background(), locks.Combo)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.exec.Combo(ctx, "party"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Combo() error = %v, want deadline exceeded", err)
	}
	if r.servoPin.Writes() != 0 {
		t.Fatal("combo wrote while the Combo lock was held elsewhere")
	}
	release()
}

func TestComboUnknown(t *testing.T) {
	r := newRig(t, missingOpener)
	if err := r.exec.Combo(context.Background(), "rave"); !errors.Is(err, ErrUnknownCombo) {
		t.Fatalf("Combo() error = %v, want ErrUnknownCombo", err)
	}
}

func TestComboStopsOnWriteError(t *testing.T) {
	r := newRig(t, missingOpener)
	r.ledPin.FailWith = errors.New("gpio gone")
	if err := r.exec.Combo(context.Background(), "alarm"); err == nil {
		t.Fatal("expected error")
	}
	// Lock released.
	r.ledPin.FailWith = nil
	if err := r.exec.Combo(context.Background(), "alarm"); err != nil {
		t.Fatal(err)
	}
}

func TestGyroRoutinesReportUnavailable(t *testing.T) {
	sensorRoutines := []string{
		"tilt-servo-map", "shake-led-strobe", "level-guard", "freefall-alarm",
		"gyro-magnitude-blink", "pitch-roll-pan", "stable-hold-game", "dont-shake-game",
		"balance-challenge", "noise-react", "motion-random-combo", "pitch-pulse-led",
		"impact-flash", "drift-check", "tilt-micro-adjust",
	}
	for _, name := range sensorRoutines {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, missingOpener)
			_, err := r.exec.Gyro(context.Background(), name)
			if !errors.Is(err, imu.ErrSensorUnavailable) {
				t.Fatalf("Gyro(%q) error = %v, want ErrSensorUnavailable", name, err)
			}
		})
	}
}

func TestGyroAliasesWorkWithoutSensor(t *testing.T) {
	for _, name := range []string{"tilt-sweep", "orientation-wave", "rest-center", "breathing-sync", "shake-record-start"} {
		r := newRig(t, missingOpener)
		res, err := r.exec.Gyro(context.Background(), name)
		if err != nil {
			t.Fatalf("Gyro(%q) error = %v", name, err)
		}
		if !res.OK || res.Name != name {
			t.Fatalf("Gyro(%q) = %+v", name, res)
		}
	}
}

func TestGyroRoutines(t *testing.T) {
	tests := []struct {
		name     string
		sample   imu.Sample
		wantOK   bool
		wantData any
		check    func(t *testing.T, r *rig)
	}{
		{
			name:   "shake-led-strobe calm",
			sample: imu.Sample{Az: 1, Gx: 10},
			wantOK: false,
		},
		{
			name:   "shake-led-strobe shaking",
			sample: imu.Sample{Az: 1, Gx: 60},
			wantOK: true,
			check: func(t *testing.T, r *rig) {
				if r.ledPin.Writes() != 40 {
					t.Fatalf("strobe wrote %d levels, want 40", r.ledPin.Writes())
				}
			},
		},
		{
			name:     "gyro-magnitude-blink",
			sample:   imu.Sample{Az: 1, Gx: 30, Gy: 40},
			wantOK:   true,
			wantData: map[string]int{"flashes": 5},
		},
		{
			name:     "gyro-magnitude-blink clamps high",
			sample:   imu.Sample{Az: 1, Gz: 500},
			wantOK:   true,
			wantData: map[string]int{"flashes": 10},
		},
		{
			name:     "gyro-magnitude-blink clamps low",
			sample:   imu.Sample{Az: 1},
			wantOK:   true,
			wantData: map[string]int{"flashes": 1},
		},
		{
			name:     "motion-random-combo",
			sample:   imu.Sample{Az: 1, Gx: 45},
			wantOK:   true,
			wantData: map[string]int{"loops": 3},
		},
		{
			name:     "freefall-alarm falling",
			sample:   imu.Sample{Ax: 0.1, Ay: -0.1, Az: 0.1},
			wantOK:   true,
			wantData: nil,
		},
		{
			name:   "freefall-alarm resting",
			sample: imu.Sample{Az: 1},
			wantOK: false,
		},
		{
			name:     "impact-flash",
			sample:   imu.Sample{Az: 1.6},
			wantOK:   true,
			wantData: map[string]bool{"impact": true},
		},
		{
			name:     "stable-hold-game",
			sample:   imu.Sample{Az: 1, Gx: 1},
			wantOK:   true,
			wantData: map[string]bool{"stable": true},
			check: func(t *testing.T, r *rig) {
				if !r.led.IsOn() {
					t.Fatal("LED off after stable hold")
				}
			},
		},
		{
			name:     "level-guard",
			sample:   imu.Sample{Az: 1},
			wantOK:   true,
			wantData: map[string]bool{"level": true},
		},
		{
			name:     "tilt-micro-adjust",
			sample:   imu.Sample{Az: 1},
			wantOK:   true,
			wantData: map[string]int{"newAngle": 90},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, deviceOpener(tt.sample))
			routineName := tt.name
			for i, c := range routineName {
				if c == ' ' {
					routineName = routineName[:i]
					break
				}
			}

			res, err := r.exec.Gyro(context.Background(), routineName)
			if err != nil {
				t.Fatalf("Gyro(%q) error = %v", routineName, err)
			}
			if res.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v (%s)", res.OK, tt.wantOK, res.Description)
			}
			if tt.wantData != nil && !equalData(res.Data, tt.wantData) {
				t.Fatalf("Data = %#v, want %#v", res.Data, tt.wantData)
			}
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

func equalData(got, want any) bool {
	switch w := want.(type) {
	case map[string]int:
		g, ok := got.(map[string]int)
		if !ok || len(g) != len(w) {
			return false
		}
		for k, v := range w {
			if g[k] != v {
				return false
			}
		}
		return true
	case map[string]bool:
		g, ok := got.(map[string]bool)
		if !ok || len(g) != len(w) {
			return false
		}
		for k, v := range w {
			if g[k] != v {
				return false
			}
		}
		return true
	}
	return false
}

func TestTiltServoMapFollowsRoll(t *testing.T) {
	// Accelerometer says rolled; gyro idle. One filter step moves 4% toward
	// the accelerometer angle.
	r := newRig(t, deviceOpener(imu.Sample{Ax: -1, Az: 1}))
	res, err := r.exec.Gyro(context.Background(), "tilt-servo-map")
	if err != nil {
		t.Fatal(err)
	}
	target := res.Data.(map[string]int)["target"]
	if target < 90 || target > 92 {
		t.Fatalf("target = %d, want 90 + 0.04*45", target)
	}
	if r.servo.CurrentAngle() != target {
		t.Fatalf("CurrentAngle() = %d, want %d", r.servo.CurrentAngle(), target)
	}
}

func TestRunDispatch(t *testing.T) {
	r := newRig(t, deviceOpener(imu.Sample{Az: 1}))

	var mu sync.Mutex
	var runs []string
	r.exec.OnRun = func(kind, name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, kind+"/"+name)
	}

	for _, c := range []struct{ kind, name string }{
		{KindServo, "wave"},
		{KindLed, "sos"},
		{KindCombo, "alarm"},
		{KindGyro, "drift-check"},
	} {
		if err := r.exec.Run(context.Background(), c.kind, c.name); err != nil {
			t.Fatalf("Run(%s, %s) error = %v", c.kind, c.name, err)
		}
	}
	if len(runs) != 4 {
		t.Fatalf("OnRun called %d times, want 4: %v", len(runs), runs)
	}

	if err := r.exec.Run(context.Background(), "laser", "pew"); !errors.Is(err, ErrUnknownRoutine) {
		t.Fatalf("Run() error = %v, want ErrUnknownRoutine", err)
	}
	if r.ledPin.Level() != gpio.Low {
		t.Fatal("LED left high")
	}
}

func TestList(t *testing.T) {
	c := List()
	if len(c.Servo) != 16 || len(c.Led) != 8 || len(c.Combo) != 7 {
		t.Fatalf("List() = %d servo, %d led, %d combo", len(c.Servo), len(c.Led), len(c.Combo))
	}
	if len(c.Gyro) != len(gyros) {
		t.Fatalf("List() gyro = %d, want %d", len(c.Gyro), len(gyros))
	}
}
