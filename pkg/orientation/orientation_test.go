package orientation

import (
	"math"
	"testing"
	"time"
)

const epsilon = 1e-9

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAccelAngles(t *testing.T) {
	tests := []struct {
		name      string
		ax, ay    float64
		az        float64
		wantPitch float64
		wantRoll  float64
	}{
		{name: "level", ax: 0, ay: 0, az: 1, wantPitch: 0, wantRoll: 0},
		{name: "x axis down", ax: 1, ay: 0, az: 0, wantPitch: 0, wantRoll: -90},
		{name: "y axis down", ax: 0, ay: 1, az: 0, wantPitch: 90, wantRoll: 0},
		{name: "zero vector", ax: 0, ay: 0, az: 0, wantPitch: 0, wantRoll: 0},
		{name: "45 degree roll", ax: -1, ay: 0, az: 1, wantPitch: 0, wantRoll: 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pitch, roll := AccelAngles(tt.ax, tt.ay, tt.az)
			if math.Abs(pitch-tt.wantPitch) > epsilon {
				t.Errorf("pitch = %v, want %v", pitch, tt.wantPitch)
			}
			if math.Abs(roll-tt.wantRoll) > epsilon {
				t.Errorf("roll = %v, want %v", roll, tt.wantRoll)
			}
		})
	}
}

func TestFilterUpdateMath(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := NewFilter(DefaultAlpha, clock.now)

	clock.advance(500 * time.Millisecond)
	pitch, roll := f.Update(10, -20, 4, 8)

	// integrated: pitch 2, roll 4
	wantPitch := 0.96*2 + 0.04*10
	wantRoll := 0.96*4 + 0.04*-20
	if math.Abs(pitch-wantPitch) > epsilon || math.Abs(roll-wantRoll) > epsilon {
		t.Fatalf("Update() = (%v, %v), want (%v, %v)", pitch, roll, wantPitch, wantRoll)
	}

	gotPitch, gotRoll := f.State()
	if gotPitch != pitch || gotRoll != roll {
		t.Fatalf("State() = (%v, %v), want (%v, %v)", gotPitch, gotRoll, pitch, roll)
	}
}

func TestFilterFirstCallUsesTimeSinceConstruction(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := NewFilter(DefaultAlpha, clock.now)

	clock.advance(2 * time.Second)
	pitch, _ := f.Update(0, 0, 10, 0)

	want := 0.96 * 20
	if math.Abs(pitch-want) > epsilon {
		t.Fatalf("pitch = %v, want %v", pitch, want)
	}
}

func TestFilterMovesTowardAccelAngle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := NewFilter(DefaultAlpha, clock.now)

	const gyroRate = 15.0
	const accelPitch = 30.0
	dt := 100 * time.Millisecond

	for i := 0; i < 50; i++ {
		before, _ := f.State()
		clock.advance(dt)
		integrated := before + gyroRate*dt.Seconds()

		fused, _ := f.Update(accelPitch, 0, gyroRate, 0)

		if integrated == accelPitch {
			continue
		}
		if math.Abs(fused-accelPitch) >= math.Abs(integrated-accelPitch) {
			t.Fatalf("step %d: |fused-p| = %v not < |integrated-p| = %v",
				i, math.Abs(fused-accelPitch), math.Abs(integrated-accelPitch))
		}
	}
}

func TestFilterConvergesWithoutRotation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := NewFilter(DefaultAlpha, clock.now)

	var pitch, roll float64
	for i := 0; i < 500; i++ {
		clock.advance(10 * time.Millisecond)
		pitch, roll = f.Update(12, -7, 0, 0)
	}
	if math.Abs(pitch-12) > 1e-3 || math.Abs(roll+7) > 1e-3 {
		t.Fatalf("filter did not converge: pitch=%v roll=%v", pitch, roll)
	}
}

func TestFilterReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := NewFilter(DefaultAlpha, clock.now)

	clock.advance(time.Second)
	f.Update(40, 40, 100, 100)

	clock.advance(10 * time.Second)
	f.Reset()
	pitch, roll := f.State()
	if pitch != 0 || roll != 0 {
		t.Fatalf("State() after Reset = (%v, %v), want zero", pitch, roll)
	}

	// dt restarts at Reset, not at the previous Update.
	clock.advance(time.Second)
	pitch, _ = f.Update(0, 0, 10, 0)
	if math.Abs(pitch-0.96*10) > epsilon {
		t.Fatalf("pitch after reset = %v, want %v", pitch, 0.96*10)
	}
}
