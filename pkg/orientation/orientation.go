// Package orientation turns raw accelerometer and gyroscope samples into
// pitch/roll angles.
package orientation

import (
	"math"
	"sync"
	"time"
)

// DefaultAlpha weights the integrated gyro angle against the accelerometer
// angle in the complementary filter.
const DefaultAlpha = 0.96

// Estimate is an orientation in degrees. Yaw is not estimated: it carries the
// raw gyro Z rate through as a placeholder.
type Estimate struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// AccelAngles computes pitch and roll (degrees) from an accelerometer reading.
//
//	pitch = atan2(ay, sqrt(ax² + az²))
//	roll  = atan2(-ax, az)
//
// A zero vector yields zero angles; no attempt is made to reject it.
func AccelAngles(ax, ay, az float64) (pitch, roll float64) {
	pitch = math.Atan2(ay, math.Sqrt(ax*ax+az*az)) * 180.0 / math.Pi
	roll = math.Atan2(-ax, az) * 180.0 / math.Pi
	return pitch, roll
}

// Filter is a complementary filter fusing integrated gyro rates with absolute
// accelerometer angles. It keeps its state between calls and measures dt from
// its own previous invocation, so it drifts unless it is fed regularly.
//
// Filter is safe for concurrent use.
type Filter struct {
	alpha float64
	now   func() time.Time

	mu    sync.Mutex
	pitch float64
	roll  float64
	last  time.Time
}

// NewFilter returns a filter with the given alpha. now may be nil, in which
// case time.Now is used. The first Update measures dt from construction.
func NewFilter(alpha float64, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{
		alpha: alpha,
		now:   now,
		last:  now(),
	}
}

// Update integrates the gyro rates (deg/s, X for pitch and Y for roll) over the
// time since the previous call and blends the result with the accelerometer
// angles. It returns the fused pitch and roll.
func (f *Filter) Update(accelPitch, accelRoll, gyroPitchRate, gyroRollRate float64) (pitch, roll float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.now()
	dt := t.Sub(f.last).Seconds()
	f.last = t

	f.pitch += gyroPitchRate * dt
	f.roll += gyroRollRate * dt

	f.pitch = f.alpha*f.pitch + (1-f.alpha)*accelPitch
	f.roll = f.alpha*f.roll + (1-f.alpha)*accelRoll

	return f.pitch, f.roll
}

// State returns the current fused angles without advancing the filter.
func (f *Filter) State() (pitch, roll float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pitch, f.roll
}

// Reset zeroes the accumulated angles and restarts the dt clock.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pitch = 0
	f.roll = 0
	f.last = f.now()
}
