// Package mpu6050 drives an InvenSense MPU-6050 accelerometer/gyroscope over
// I2C using periph.io.
//
// Only the polled accelerometer, gyroscope and temperature outputs are
// supported. The FIFO, interrupts and the auxiliary I2C master are not used.
package mpu6050

import (
	"encoding/binary"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

const (
	// DefaultAddr is the address with AD0 tied low.
	DefaultAddr uint16 = 0x68
	// AlternateAddr is the address with AD0 tied high.
	AlternateAddr uint16 = 0x69

	regConfig      = 0x1a
	regGyroConfig  = 0x1b
	regAccelConfig = 0x1c
	regAccelXOutH  = 0x3b
	regPwrMgmt1    = 0x6b
	regWhoAmI      = 0x75

	// WHO_AM_I always reports 0x68 regardless of AD0.
	whoAmIValue = 0x68

	sampleLen = 14
)

// AccelRange selects the accelerometer full-scale range.
type AccelRange byte

const (
	Accel2G AccelRange = iota
	Accel4G
	Accel8G
	Accel16G
)

// GyroRange selects the gyroscope full-scale range.
type GyroRange byte

const (
	Gyro250DPS GyroRange = iota
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

// LSB per g for each AccelRange.
var accelSensitivity = [...]float64{16384, 8192, 4096, 2048}

// LSB per deg/s for each GyroRange.
var gyroSensitivity = [...]float64{131, 65.5, 32.8, 16.4}

// ErrInvalidOpts is returned by New when Opts holds out of range values.
var ErrInvalidOpts = pkgerrors.New("invalid mpu6050 options")

// Opts configures the device.
type Opts struct {
	Addr       uint16
	AccelRange AccelRange
	GyroRange  GyroRange
	// DLPF is the digital low pass filter setting (0-6). 1 gives ~184Hz
	// bandwidth on both sensors.
	DLPF byte
}

// DefaultOpts is ±2g, ±250°/s, 184Hz bandwidth at the default address.
var DefaultOpts = Opts{
	Addr:       DefaultAddr,
	AccelRange: Accel2G,
	GyroRange:  Gyro250DPS,
	DLPF:       1,
}

// Validate checks that every option is within the device's range.
func (o *Opts) Validate() error {
	if o.Addr != DefaultAddr && o.Addr != AlternateAddr {
		return pkgerrors.Wrapf(ErrInvalidOpts, "address 0x%02x is not 0x68 or 0x69", o.Addr)
	}
	if int(o.AccelRange) >= len(accelSensitivity) {
		return pkgerrors.Wrapf(ErrInvalidOpts, "accel range %d", o.AccelRange)
	}
	if int(o.GyroRange) >= len(gyroSensitivity) {
		return pkgerrors.Wrapf(ErrInvalidOpts, "gyro range %d", o.GyroRange)
	}
	if o.DLPF > 6 {
		return pkgerrors.Wrapf(ErrInvalidOpts, "dlpf %d", o.DLPF)
	}
	return nil
}

// Reading is one burst read in physical units.
type Reading struct {
	// Accel is in g.
	Accel [3]float64
	// Gyro is in degrees per second.
	Gyro [3]float64
	// Temperature is in degrees Celsius.
	Temperature float64
}

// Dev is a handle to a configured MPU-6050.
type Dev struct {
	d          i2c.Dev
	accelScale float64
	gyroScale  float64
	buf        [sampleLen]byte
}

// New verifies the chip identity, wakes it up and applies opts.
func New(b i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	d := &Dev{
		d:          i2c.Dev{Bus: b, Addr: opts.Addr},
		accelScale: accelSensitivity[opts.AccelRange],
		gyroScale:  gyroSensitivity[opts.GyroRange],
	}

	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "can't read from I2C address 0x%02x on %s", opts.Addr, b)
	}
	if id != whoAmIValue {
		return nil, fmt.Errorf("unexpected non-MPU6050 device at address 0x%02x: WHO_AM_I 0x%02x", opts.Addr, id)
	}

	// The chip powers up asleep.
	if err := d.writeReg(regPwrMgmt1, 0x00); err != nil {
		return nil, pkgerrors.Wrap(err, "unable to wake up MPU6050")
	}
	if err := d.writeReg(regConfig, opts.DLPF); err != nil {
		return nil, pkgerrors.Wrap(err, "set DLPF")
	}
	if err := d.writeReg(regGyroConfig, byte(opts.GyroRange)<<3); err != nil {
		return nil, pkgerrors.Wrap(err, "set gyro range")
	}
	if err := d.writeReg(regAccelConfig, byte(opts.AccelRange)<<3); err != nil {
		return nil, pkgerrors.Wrap(err, "set accel range")
	}

	logrus.WithFields(logrus.Fields{
		"addr":       fmt.Sprintf("0x%02x", opts.Addr),
		"accelRange": opts.AccelRange,
		"gyroRange":  opts.GyroRange,
		"dlpf":       opts.DLPF,
	}).Debug("MPU6050 configured")

	return d, nil
}

// Read performs one burst read of the accelerometer, temperature and
// gyroscope output registers.
func (d *Dev) Read() (Reading, error) {
	if err := d.d.Tx([]byte{regAccelXOutH}, d.buf[:]); err != nil {
		return Reading{}, pkgerrors.Wrap(err, "read sensor registers")
	}

	word := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(d.buf[i : i+2])))
	}

	r := Reading{
		Accel: [3]float64{
			word(0) / d.accelScale,
			word(2) / d.accelScale,
			word(4) / d.accelScale,
		},
		// Taken straight from the register map.
		Temperature: word(6)/340.0 + 36.53,
		Gyro: [3]float64{
			word(8) / d.gyroScale,
			word(10) / d.gyroScale,
			word(12) / d.gyroScale,
		},
	}

	logrus.WithField("reading", r).Trace("MPU6050 read")
	return r, nil
}

// Halt puts the chip back to sleep.
func (d *Dev) Halt() error {
	return d.writeReg(regPwrMgmt1, 0x40)
}

func (d *Dev) String() string {
	return fmt.Sprintf("MPU6050{%s}", &d.d)
}

func (d *Dev) readReg(reg byte) (byte, error) {
	var b [1]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) writeReg(reg, value byte) error {
	return d.d.Tx([]byte{reg, value}, nil)
}
