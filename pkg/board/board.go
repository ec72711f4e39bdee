// Package board resolves the Raspberry Pi peripherals named in the
// configuration into handles the drivers can use, either on real hardware
// through periph.io or as in-memory simulations.
package board

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/mpu6050"
)

// Pin is the subset of gpio.PinIO the actuator drivers need. Every periph
// GPIO pin satisfies it.
type Pin interface {
	String() string
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// Options selects the peripherals to open.
type Options struct {
	ServoPin string
	LedPin   string
	I2CBus   string
	IMU      mpu6050.Opts
	// Simulate replaces every peripheral with an in-memory fake.
	Simulate bool
}

// Board holds the opened peripherals. The IMU is not opened here: IMUOpener is
// handed to the sensor driver, which opens it lazily.
type Board struct {
	Servo     Pin
	Led       Pin
	IMUOpener imu.Opener
}

var (
	hostOnce sync.Once
	hostErr  error
)

// Init loads the periph host drivers once per process.
func Init() error {
	hostOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			hostErr = pkgerrors.Wrap(err, "failed to initialize periph host drivers")
			return
		}
		for _, d := range state.Loaded {
			logrus.WithField("driver", d.String()).Debug("periph driver loaded")
		}
		for _, f := range state.Failed {
			logrus.WithField("driver", f.D.String()).WithError(f.Err).Debug("periph driver failed")
		}
	})
	return hostErr
}

// Open resolves the configured pins. If a later pin cannot be resolved, the
// pins already opened are halted in reverse order before returning.
func Open(opts Options) (*Board, error) {
	if opts.Simulate {
		logrus.Warn("simulation mode enabled, no hardware will be touched")
		return &Board{
			Servo:     NewSimPin(opts.ServoPin),
			Led:       NewSimPin(opts.LedPin),
			IMUOpener: SimIMUOpener(nil),
		}, nil
	}

	if err := Init(); err != nil {
		return nil, err
	}

	var opened []Pin
	fail := func(err error) (*Board, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			if herr := opened[i].Halt(); herr != nil {
				logrus.WithError(herr).WithField("pin", opened[i].String()).Warn("failed to halt pin")
			}
		}
		return nil, err
	}

	servo, err := lookupPin(opts.ServoPin)
	if err != nil {
		return fail(pkgerrors.Wrap(err, "servo"))
	}
	opened = append(opened, servo)

	led, err := lookupPin(opts.LedPin)
	if err != nil {
		return fail(pkgerrors.Wrap(err, "led"))
	}
	opened = append(opened, led)

	logrus.WithFields(logrus.Fields{
		"servo": servo.String(),
		"led":   led.String(),
		"i2c":   opts.I2CBus,
	}).Info("board opened")

	return &Board{
		Servo:     servo,
		Led:       led,
		IMUOpener: MPU6050Opener(opts.I2CBus, opts.IMU),
	}, nil
}

func lookupPin(name string) (Pin, error) {
	if name == "" {
		return nil, pkgerrors.New("pin name is empty")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, pkgerrors.Errorf("no GPIO pin named %q", name)
	}
	return p, nil
}
