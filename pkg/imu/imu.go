// Package imu owns the motion sensor and exposes it as a resilient source of
// raw samples and fused orientation.
//
// The sensor is opened lazily on first use, so constructing a Sensor never
// fails because hardware is missing. Its availability is an explicit state
// machine:
//
//	Uninitialized --open ok--> Available --read fails--> Unavailable
//	      |                        ^                          |
//	      +------open fails------> Unavailable <--------------+
//	                               |  read ok
//	                               +--------> Available
//
// While the device could not be opened, every access retries the open. Once
// the device is open, a failed read demotes the sensor to Unavailable and the
// next read attempts a fresh transaction; the sensor never re-probes on its
// own.
package imu

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/orientation"
)

const (
	// DefaultFreefallThresholdG is the per-axis acceleration below which the
	// sensor is considered to be falling.
	DefaultFreefallThresholdG = 0.15
	// DefaultStableThresholdDPS is the gyro magnitude below which the sensor
	// is considered to be at rest.
	DefaultStableThresholdDPS = 5.0
)

// State is the availability of the sensor.
type State int

const (
	StateUninitialized State = iota
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sample is one accelerometer/gyroscope snapshot. Acceleration is in g and
// angular rate in degrees per second.
type Sample struct {
	Ax   float64   `json:"ax"`
	Ay   float64   `json:"ay"`
	Az   float64   `json:"az"`
	Gx   float64   `json:"gx"`
	Gy   float64   `json:"gy"`
	Gz   float64   `json:"gz"`
	Time time.Time `json:"time"`
}

// Device is an open sensor handle.
type Device interface {
	// Read performs one transaction. Time is filled in by the Sensor.
	Read() (Sample, error)
	Close() error
}

// Opener opens the underlying device. It is called lazily and may be called
// again after a failure.
type Opener func() (Device, error)

// Transition describes a change of availability.
type Transition struct {
	From State
	To   State
	Err  error
}

// Status is a snapshot of the sensor's availability.
type Status struct {
	Available  bool      `json:"available"`
	State      string    `json:"state"`
	LastError  *string   `json:"lastError"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Sensor is the lazily initialized motion sensor driver.
type Sensor struct {
	locks  *locks.Manager
	open   Opener
	filter *orientation.Filter
	now    func() time.Time

	onTransition func(Transition)

	// mu guards the fields below. I2C transactions are serialized by the Imu
	// lock, not by mu.
	mu         sync.Mutex
	state      State
	dev        Device
	lastErr    error
	lastRaw    Sample
	lastAngles orientation.Estimate
	lastUpdate time.Time
}

// New returns a Sensor in the Uninitialized state. Nothing is opened until the
// first access.
func New(lm *locks.Manager, open Opener, filter *orientation.Filter) *Sensor {
	if filter == nil {
		filter = orientation.NewFilter(orientation.DefaultAlpha, nil)
	}
	return &Sensor{
		locks:  lm,
		open:   open,
		filter: filter,
		now:    time.Now,
		state:  StateUninitialized,
	}
}

// OnTransition registers a callback invoked on every availability change and
// on every failed transaction. fn is called without the sensor's mutex held.
func (s *Sensor) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = fn
}

// Initialize opens the device if it is not already open. Failures are recorded
// and move the sensor to Unavailable; they are never returned.
func (s *Sensor) Initialize() {
	s.mu.Lock()
	t, changed := s.initializeLocked()
	s.mu.Unlock()

	if changed {
		s.notify(t)
	}
}

func (s *Sensor) initializeLocked() (Transition, bool) {
	if s.dev != nil {
		return Transition{}, false
	}

	logrus.Info("initializing motion sensor")
	dev, err := s.safeOpen()
	if err != nil {
		logrus.WithError(err).Error("failed to initialize motion sensor; gyro endpoints will report unavailable until it responds")
		return s.setStateLocked(StateUnavailable, err)
	}

	s.dev = dev
	logrus.Info("motion sensor initialized")
	return s.setStateLocked(StateAvailable, nil)
}

func (s *Sensor) safeOpen() (dev Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = &UnexpectedError{Op: "open", Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	if s.open == nil {
		return nil, &UnexpectedError{Op: "open", Cause: pkgerrors.New("no device opener configured")}
	}
	return s.open()
}

// setStateLocked must be called with mu held. A transition is reported when the
// state changes or when err is non-nil.
func (s *Sensor) setStateLocked(to State, err error) (Transition, bool) {
	from := s.state
	s.state = to
	s.lastErr = err
	if from == to && err == nil {
		return Transition{}, false
	}
	return Transition{From: from, To: to, Err: err}, true
}

func (s *Sensor) notify(t Transition) {
	entry := logrus.WithFields(logrus.Fields{
		"from": t.From,
		"to":   t.To,
	})
	if t.Err != nil {
		entry = entry.WithError(t.Err)
	}
	if t.From != t.To {
		entry.Info("motion sensor state changed")
	}

	s.mu.Lock()
	fn := s.onTransition
	s.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// errorLocked converts the recorded failure into the error returned to
// callers. Unexpected faults keep their kind.
func (s *Sensor) errorLocked() error {
	var unexpected *UnexpectedError
	if pkgerrors.As(s.lastErr, &unexpected) {
		return unexpected
	}
	msg := "motion sensor is not available"
	if s.lastErr == nil {
		msg += ": unknown error"
	}
	return &UnavailableError{Detail: msg, Cause: s.lastErr}
}

// ensureAvailable initializes the sensor if needed and fails unless it is
// Available.
func (s *Sensor) ensureAvailable() error {
	s.Initialize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAvailable {
		return s.errorLocked()
	}
	return nil
}

// ReadRaw performs one exclusive transaction and caches the result.
//
// If the device cannot be opened the call fails with an *UnavailableError
// (or *UnexpectedError for configuration faults) without touching the bus. A
// failed transaction demotes the sensor to Unavailable; a successful one
// promotes it back to Available.
func (s *Sensor) ReadRaw(ctx context.Context) (Sample, error) {
	return s.read(ctx, nil)
}

// read is ReadRaw with a continuation. then runs on a successful sample while
// the Imu lock is still held, so its effects are ordered like the reads.
func (s *Sensor) read(ctx context.Context, then func(Sample)) (Sample, error) {
	s.Initialize()

	s.mu.Lock()
	if s.dev == nil {
		err := s.errorLocked()
		s.mu.Unlock()
		return Sample{}, err
	}
	s.mu.Unlock()

	release, err := s.locks.Acquire(ctx, locks.Imu)
	if err != nil {
		return Sample{}, err
	}
	defer release()

	s.mu.Lock()
	dev := s.dev
	now := s.now
	s.mu.Unlock()
	if dev == nil {
		// Closed while we were waiting for the bus.
		s.mu.Lock()
		defer s.mu.Unlock()
		return Sample{}, s.errorLocked()
	}

	sample, err := safeRead(dev)

	s.mu.Lock()
	if err != nil {
		t, changed := s.setStateLocked(StateUnavailable, err)
		s.mu.Unlock()
		logrus.WithError(err).Error("failed to read from motion sensor")
		if changed {
			s.notify(t)
		}
		var unexpected *UnexpectedError
		if pkgerrors.As(err, &unexpected) {
			return Sample{}, unexpected
		}
		return Sample{}, &UnavailableError{Detail: "failed to read from motion sensor", Cause: err}
	}

	sample.Time = now()
	s.lastRaw = sample
	t, changed := s.setStateLocked(StateAvailable, nil)
	s.mu.Unlock()
	if changed {
		s.notify(t)
	}

	if then != nil {
		then(sample)
	}
	return sample, nil
}

func safeRead(dev Device) (sample Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedError{Op: "read", Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return dev.Read()
}

// UpdateAngles reads a fresh sample and feeds it through the complementary
// filter. Errors from ReadRaw are returned unchanged. The filter step happens
// under the Imu lock, so concurrent callers feed it samples in read order.
func (s *Sensor) UpdateAngles(ctx context.Context) (orientation.Estimate, error) {
	var est orientation.Estimate
	_, err := s.read(ctx, func(raw Sample) {
		accelPitch, accelRoll := orientation.AccelAngles(raw.Ax, raw.Ay, raw.Az)
		pitch, roll := s.filter.Update(accelPitch, accelRoll, raw.Gx, raw.Gy)
		est = orientation.Estimate{Pitch: pitch, Roll: roll, Yaw: raw.Gz}

		s.mu.Lock()
		s.lastAngles = est
		s.lastUpdate = raw.Time
		s.mu.Unlock()
	})
	if err != nil {
		return orientation.Estimate{}, err
	}
	return est, nil
}

// GyroMagnitude returns |(gx, gy, gz)| of the last cached sample.
func (s *Sensor) GyroMagnitude() (float64, error) {
	if err := s.ensureAvailable(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return gyroMagnitude(s.lastRaw), nil
}

// IsFreefall reports whether every axis of the last cached acceleration is
// below thresholdG in absolute value.
func (s *Sensor) IsFreefall(thresholdG float64) (bool, error) {
	if err := s.ensureAvailable(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lastRaw
	return math.Abs(r.Ax) < thresholdG && math.Abs(r.Ay) < thresholdG && math.Abs(r.Az) < thresholdG, nil
}

// IsStable reports whether the last cached gyro magnitude is below
// thresholdDPS.
func (s *Sensor) IsStable(thresholdDPS float64) (bool, error) {
	if err := s.ensureAvailable(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return gyroMagnitude(s.lastRaw) < thresholdDPS, nil
}

func gyroMagnitude(r Sample) float64 {
	return math.Sqrt(r.Gx*r.Gx + r.Gy*r.Gy + r.Gz*r.Gz)
}

// IsAvailable reports whether the sensor is in the Available state. It does not
// trigger initialization.
func (s *Sensor) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAvailable
}

// State returns the current availability state.
func (s *Sensor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastErrorMessage returns the message of the last recorded failure, if any.
func (s *Sensor) LastErrorMessage() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return "", false
	}
	return s.lastErr.Error(), true
}

// Status returns a snapshot suitable for reporting.
func (s *Sensor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Available:  s.state == StateAvailable,
		State:      s.state.String(),
		LastUpdate: s.lastUpdate,
	}
	if s.lastErr != nil {
		msg := s.lastErr.Error()
		st.LastError = &msg
	}
	return st
}

// LastRaw returns the last cached sample.
func (s *Sensor) LastRaw() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRaw
}

// LastAngles returns the last fused estimate.
func (s *Sensor) LastAngles() orientation.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAngles
}

// LastUpdate returns the time of the last successful UpdateAngles.
func (s *Sensor) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// Reinitialize closes the device, resets the orientation filter and returns
// the sensor to Uninitialized. The next access opens the device again.
func (s *Sensor) Reinitialize(ctx context.Context) error {
	release, err := s.locks.Acquire(ctx, locks.Imu)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	closeErr := s.closeLocked()
	from := s.state
	s.state = StateUninitialized
	s.lastErr = nil
	s.lastRaw = Sample{}
	s.lastAngles = orientation.Estimate{}
	s.mu.Unlock()

	s.filter.Reset()
	s.notify(Transition{From: from, To: StateUninitialized})

	return closeErr
}

// Close releases the device and returns the sensor to Uninitialized. The
// sensor may be reopened by a later access.
func (s *Sensor) Close() error {
	release, err := s.locks.Acquire(context.Background(), locks.Imu)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	closeErr := s.closeLocked()
	from := s.state
	s.state = StateUninitialized
	s.mu.Unlock()

	if from != StateUninitialized {
		s.notify(Transition{From: from, To: StateUninitialized})
	}
	return closeErr
}

func (s *Sensor) closeLocked() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	if err != nil {
		return pkgerrors.Wrap(err, "close motion sensor")
	}
	return nil
}
