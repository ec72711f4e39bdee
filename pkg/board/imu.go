package board

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/mpu6050"
)

// openBus is replaced in tests.
var openBus = func(name string) (i2c.BusCloser, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return i2creg.Open(name)
}

// MPU6050Opener returns an Opener for an MPU-6050 on the named I2C bus.
// Invalid options are reported as *imu.UnexpectedError so the sensor does not
// mistake them for missing hardware.
func MPU6050Opener(busName string, opts mpu6050.Opts) imu.Opener {
	return func() (imu.Device, error) {
		if err := opts.Validate(); err != nil {
			return nil, &imu.UnexpectedError{Op: "configure", Cause: err}
		}

		bus, err := openBus(busName)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to open I2C bus %q", busName)
		}

		dev, err := mpu6050.New(bus, &opts)
		if err != nil {
			// The bus was opened but the chip did not come up.
			if cerr := bus.Close(); cerr != nil {
				logrus.WithError(cerr).Warn("failed to close I2C bus")
			}
			return nil, err
		}

		return &mpuDevice{bus: bus, dev: dev}, nil
	}
}

type mpuDevice struct {
	bus i2c.BusCloser
	dev *mpu6050.Dev
}

func (m *mpuDevice) Read() (imu.Sample, error) {
	r, err := m.dev.Read()
	if err != nil {
		return imu.Sample{}, err
	}
	return imu.Sample{
		Ax: r.Accel[0],
		Ay: r.Accel[1],
		Az: r.Accel[2],
		Gx: r.Gyro[0],
		Gy: r.Gyro[1],
		Gz: r.Gyro[2],
	}, nil
}

func (m *mpuDevice) Close() error {
	if err := m.dev.Halt(); err != nil {
		logrus.WithError(err).Warn("failed to put MPU6050 to sleep")
	}
	return m.bus.Close()
}
