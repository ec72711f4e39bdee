package routine

import (
	"context"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
)

// Motion thresholds in degrees per second and degrees.
const (
	shakeStrobeDPS   = 50
	dontShakeDPS     = 40
	noiseSparkleDPS  = 30
	levelToleranceDg = 5
	balanceTolerance = 3
	impactDeltaG     = 0.4
)

type gyroFunc func(ctx context.Context, e *Executor) (Result, error)

var gyros = map[string]gyroFunc{
	"tilt-servo-map":       tiltServoMap,
	"shake-led-strobe":     shakeLedStrobe,
	"level-guard":          levelGuard,
	"freefall-alarm":       freefallAlarm,
	"gyro-magnitude-blink": gyroMagnitudeBlink,
	"pitch-roll-pan":       pitchRollPan,
	"stable-hold-game":     stableHoldGame,
	"dont-shake-game":      dontShakeGame,
	"balance-challenge":    balanceChallenge,
	"noise-react":          noiseReact,
	"motion-random-combo":  motionRandomCombo,
	"pitch-pulse-led":      pitchPulseLed,
	"impact-flash":         impactFlash,
	"drift-check":          driftCheck,
	"rest-center":          restCenter,
	"tilt-micro-adjust":    tiltMicroAdjust,
	"shake-record-start":   stub("shake-record-start", "Recording start stub"),
	"shake-record-stop":    stub("shake-record-stop", "Recording stop stub"),

	"tilt-sweep":        servoAlias("tilt-sweep", "smooth-sweep", "Performed smooth sweep regardless of tilt"),
	"orientation-wave":  servoAlias("orientation-wave", "wave", "Wave sequence"),
	"shake-replay":      servoAlias("shake-replay", "jitter", "Replayed jitter pattern"),
	"yaw-spin-cycle":    servoAlias("yaw-spin-cycle", "spin-cycle", "Spin cycle"),
	"roll-focus-servo":  servoAlias("roll-focus-servo", "focus-sweep", "Focus sweep run"),
	"angle-double-wave": servoAlias("angle-double-wave", "double-wave", "Double wave executed"),
	"rapid-twist":       servoAlias("rapid-twist", "edge-pulse", "Edge pulse done"),
	"slow-pan-gyro":     servoAlias("slow-pan-gyro", "slow-pan", "Slow pan executed"),
	"heartbeat-sync":    servoAlias("heartbeat-sync", "heartbeat", "Heartbeat arc"),
	"edge-pulse-gyro":   servoAlias("edge-pulse-gyro", "edge-pulse", "Edge pulse"),
	"rain-drop-gyro":    servoAlias("rain-drop-gyro", "rain-drop", "Rain drop"),
	"sine-ride-gyro":    servoAlias("sine-ride-gyro", "sine-ride", "Sine ride"),
	"breathing-sync":    ledAlias("breathing-sync", "breathing", "Breathing LED"),
}

// Gyros returns the gyro routine names in sorted order.
func Gyros() []string { return sortedKeys(gyros) }

// HasGyro reports whether name is a gyro routine.
func HasGyro(name string) bool {
	_, ok := gyros[name]
	return ok
}

// Gyro runs the named gyro routine. Sensor faults are returned unchanged so
// callers can tell imu.ErrSensorUnavailable from imu.ErrUnexpected.
func (e *Executor) Gyro(ctx context.Context, name string) (Result, error) {
	fn, ok := gyros[name]
	if !ok {
		return Result{}, pkgerrors.Wrapf(ErrUnknownGyro, "%q", name)
	}

	start := time.Now()
	res, err := fn(ctx, e)
	e.report(KindGyro, name, start, err)
	return res, err
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// magnitude reads a fresh sample and returns its gyro magnitude.
func (e *Executor) magnitude(ctx context.Context) (float64, error) {
	if _, err := e.sensor.ReadRaw(ctx); err != nil {
		return 0, err
	}
	return e.sensor.GyroMagnitude()
}

func tiltServoMap(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	target := int(90 + est.Roll)
	if _, err := e.servo.RotateTo(ctx, target); err != nil {
		return Result{}, err
	}
	return Result{"tilt-servo-map", true, "Mapped roll to servo angle", map[string]int{"target": target}}, nil
}

func shakeLedStrobe(ctx context.Context, e *Executor) (Result, error) {
	mag, err := e.magnitude(ctx)
	if err != nil {
		return Result{}, err
	}
	if mag <= shakeStrobeDPS {
		return Result{"shake-led-strobe", false, "No shake", nil}, nil
	}
	if err := e.led.Run(ctx, "strobe"); err != nil {
		return Result{}, err
	}
	return Result{"shake-led-strobe", true, "Shake detected -> strobe", nil}, nil
}

func levelGuard(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	level := math.Abs(est.Pitch) < levelToleranceDg && math.Abs(est.Roll) < levelToleranceDg
	desc := "Not level -> LED OFF"
	write := e.led.TurnOff
	if level {
		desc = "Level -> LED ON"
		write = e.led.TurnOn
	}
	if err := write(); err != nil {
		return Result{}, err
	}
	return Result{"level-guard", true, desc, map[string]bool{"level": level}}, nil
}

func freefallAlarm(ctx context.Context, e *Executor) (Result, error) {
	if _, err := e.sensor.ReadRaw(ctx); err != nil {
		return Result{}, err
	}
	falling, err := e.sensor.IsFreefall(imu.DefaultFreefallThresholdG)
	if err != nil {
		return Result{}, err
	}
	if !falling {
		return Result{"freefall-alarm", false, "No freefall", nil}, nil
	}
	if err := e.led.Run(ctx, "blink-burst"); err != nil {
		return Result{}, err
	}
	return Result{"freefall-alarm", true, "Freefall pattern triggered", nil}, nil
}

func gyroMagnitudeBlink(ctx context.Context, e *Executor) (Result, error) {
	mag, err := e.magnitude(ctx)
	if err != nil {
		return Result{}, err
	}
	flashes := clampInt(int(mag/10), 1, 10)
	if err := e.led.PatternFlash(ctx, flashes, 80*time.Millisecond, 80*time.Millisecond); err != nil {
		return Result{}, err
	}
	return Result{"gyro-magnitude-blink", true, "Blink scaled to magnitude", map[string]int{"flashes": flashes}}, nil
}

func pitchRollPan(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	target := int(90 + est.Pitch)
	if _, err := e.servo.RotateTo(ctx, target); err != nil {
		return Result{}, err
	}
	return Result{"pitch-roll-pan", true, "Pitch mapped to servo", map[string]int{"target": target}}, nil
}

func stableHoldGame(ctx context.Context, e *Executor) (Result, error) {
	if _, err := e.sensor.ReadRaw(ctx); err != nil {
		return Result{}, err
	}
	stable, err := e.sensor.IsStable(imu.DefaultStableThresholdDPS)
	if err != nil {
		return Result{}, err
	}
	desc := "Keep steady"
	write := e.led.TurnOff
	if stable {
		desc = "Stable hold success"
		write = e.led.TurnOn
	}
	if err := write(); err != nil {
		return Result{}, err
	}
	return Result{"stable-hold-game", true, desc, map[string]bool{"stable": stable}}, nil
}

func dontShakeGame(ctx context.Context, e *Executor) (Result, error) {
	mag, err := e.magnitude(ctx)
	if err != nil {
		return Result{}, err
	}
	if mag <= dontShakeDPS {
		return Result{"dont-shake-game", true, "All calm", nil}, nil
	}
	if err := e.led.Run(ctx, "strobe"); err != nil {
		return Result{}, err
	}
	return Result{"dont-shake-game", true, "You shook it!", nil}, nil
}

func balanceChallenge(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	balanced := math.Abs(est.Pitch) < balanceTolerance && math.Abs(est.Roll) < balanceTolerance
	desc := "Not balanced"
	write := e.led.TurnOff
	if balanced {
		desc = "Balanced"
		write = e.led.TurnOn
	}
	if err := write(); err != nil {
		return Result{}, err
	}
	return Result{"balance-challenge", true, desc, map[string]bool{"balanced": balanced}}, nil
}

func noiseReact(ctx context.Context, e *Executor) (Result, error) {
	mag, err := e.magnitude(ctx)
	if err != nil {
		return Result{}, err
	}
	desc := "Quiet"
	if mag > noiseSparkleDPS {
		if err := e.led.Run(ctx, "random-sparkle"); err != nil {
			return Result{}, err
		}
		desc = "Sparkle"
	}
	return Result{"noise-react", true, desc, map[string]float64{"mag": mag}}, nil
}

// motionRandomCombo reads the sensor with the Combo lock already held, so the
// loop count reflects the motion at the moment the combo was admitted.
func motionRandomCombo(ctx context.Context, e *Executor) (Result, error) {
	var loops int
	err := e.locks.WithLock(ctx, locks.Combo, func() error {
		mag, err := e.magnitude(ctx)
		if err != nil {
			return err
		}
		loops = clampInt(int(mag/15), 1, 8)
		for i := 0; i < loops; i++ {
			if err := seq(e.angle(e.intn(0, 181)), e.blink(100, 100)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{"motion-random-combo", true, "Combo based on motion loops", map[string]int{"loops": loops}}, nil
}

func pitchPulseLed(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	flashes := clampInt(int(math.Abs(est.Pitch)/10), 1, 10)
	if err := e.led.PatternFlash(ctx, flashes, 120*time.Millisecond, 120*time.Millisecond); err != nil {
		return Result{}, err
	}
	return Result{"pitch-pulse-led", true, "Pitch pulsed LED", map[string]int{"flashes": flashes}}, nil
}

func impactFlash(ctx context.Context, e *Executor) (Result, error) {
	raw, err := e.sensor.ReadRaw(ctx)
	if err != nil {
		return Result{}, err
	}
	impact := math.Abs(raw.Az-1) > impactDeltaG
	if impact {
		if err := e.led.Run(ctx, "long-flash"); err != nil {
			return Result{}, err
		}
	}
	return Result{"impact-flash", true, "Impact check done", map[string]bool{"impact": impact}}, nil
}

func driftCheck(ctx context.Context, e *Executor) (Result, error) {
	mag, err := e.magnitude(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{"drift-check", true, "Gyro magnitude", map[string]float64{"mag": mag}}, nil
}

func restCenter(ctx context.Context, e *Executor) (Result, error) {
	if _, err := e.servo.RotateTo(ctx, servo.RestAngle); err != nil {
		return Result{}, err
	}
	return Result{"rest-center", true, "Centered servo", nil}, nil
}

func tiltMicroAdjust(ctx context.Context, e *Executor) (Result, error) {
	est, err := e.sensor.UpdateAngles(ctx)
	if err != nil {
		return Result{}, err
	}
	delta := int(est.Roll / 5)
	got, err := e.servo.AdjustBy(ctx, delta)
	if err != nil {
		return Result{}, err
	}
	return Result{"tilt-micro-adjust", true, "Adjusted servo", map[string]int{"newAngle": got}}, nil
}

func stub(name, desc string) gyroFunc {
	return func(context.Context, *Executor) (Result, error) {
		return Result{name, true, desc, nil}, nil
	}
}

func servoAlias(name, routine, desc string) gyroFunc {
	return func(ctx context.Context, e *Executor) (Result, error) {
		if err := e.servo.Run(ctx, routine); err != nil {
			return Result{}, err
		}
		return Result{name, true, desc, nil}, nil
	}
}

func ledAlias(name, pattern, desc string) gyroFunc {
	return func(ctx context.Context, e *Executor) (Result, error) {
		if err := e.led.Run(ctx, pattern); err != nil {
			return Result{}, err
		}
		return Result{name, true, desc, nil}, nil
	}
}
