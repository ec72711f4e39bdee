package mpu6050

import (
	"errors"
	"math"
	"testing"

	"periph.io/x/conn/v3/physic"
)

// fakeBus emulates the register file of a single MPU-6050.
type fakeBus struct {
	regs    [256]byte
	addr    uint16
	failTx  error
	txCount int
}

func newFakeBus() *fakeBus {
	b := &fakeBus{addr: DefaultAddr}
	b.regs[regWhoAmI] = whoAmIValue
	b.regs[regPwrMgmt1] = 0x40
	return b
}

func (b *fakeBus) String() string { return "fake-i2c" }

func (b *fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.txCount++
	if b.failTx != nil {
		return b.failTx
	}
	if addr != b.addr {
		return errors.New("nack")
	}
	if len(w) == 0 {
		return errors.New("empty write")
	}
	reg := int(w[0])
	for i, v := range w[1:] {
		b.regs[reg+i] = v
	}
	for i := range r {
		r[i] = b.regs[reg+i]
	}
	return nil
}

func (b *fakeBus) setWord(reg int, v int16) {
	b.regs[reg] = byte(uint16(v) >> 8)
	b.regs[reg+1] = byte(uint16(v))
}

func TestNewConfiguresChip(t *testing.T) {
	bus := newFakeBus()
	opts := Opts{Addr: DefaultAddr, AccelRange: Accel4G, GyroRange: Gyro500DPS, DLPF: 3}

	if _, err := New(bus, &opts); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if bus.regs[regPwrMgmt1] != 0 {
		t.Errorf("PWR_MGMT_1 = 0x%02x, want awake", bus.regs[regPwrMgmt1])
	}
	if bus.regs[regConfig] != 3 {
		t.Errorf("CONFIG = %d, want 3", bus.regs[regConfig])
	}
	if bus.regs[regGyroConfig] != 1<<3 {
		t.Errorf("GYRO_CONFIG = 0x%02x, want 0x08", bus.regs[regGyroConfig])
	}
	if bus.regs[regAccelConfig] != 1<<3 {
		t.Errorf("ACCEL_CONFIG = 0x%02x, want 0x08", bus.regs[regAccelConfig])
	}
}

func TestNewRejectsWrongChip(t *testing.T) {
	bus := newFakeBus()
	bus.regs[regWhoAmI] = 0x71

	if _, err := New(bus, nil); err == nil {
		t.Fatalf("expected error for wrong WHO_AM_I")
	}
}

func TestNewRejectsInvalidOpts(t *testing.T) {
	tests := []struct {
		name string
		opts Opts
	}{
		{name: "bad address", opts: Opts{Addr: 0x10}},
		{name: "bad accel range", opts: Opts{Addr: DefaultAddr, AccelRange: 9}},
		{name: "bad gyro range", opts: Opts{Addr: DefaultAddr, GyroRange: 4}},
		{name: "bad dlpf", opts: Opts{Addr: DefaultAddr, DLPF: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			_, err := New(bus, &tt.opts)
			if !errors.Is(err, ErrInvalidOpts) {
				t.Fatalf("New() error = %v, want ErrInvalidOpts", err)
			}
			if bus.txCount != 0 {
				t.Fatalf("bus touched before options were validated")
			}
		})
	}
}

func TestReadScalesToPhysicalUnits(t *testing.T) {
	bus := newFakeBus()
	d, err := New(bus, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	bus.setWord(regAccelXOutH, 0)
	bus.setWord(regAccelXOutH+2, -8192)
	bus.setWord(regAccelXOutH+4, 16384)
	bus.setWord(regAccelXOutH+6, 0)
	bus.setWord(regAccelXOutH+8, 131)
	bus.setWord(regAccelXOutH+10, -262)
	bus.setWord(regAccelXOutH+12, 1310)

	r, err := d.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	wantAccel := [3]float64{0, -0.5, 1}
	wantGyro := [3]float64{1, -2, 10}
	for i := 0; i < 3; i++ {
		if math.Abs(r.Accel[i]-wantAccel[i]) > 1e-9 {
			t.Errorf("Accel[%d] = %v, want %v", i, r.Accel[i], wantAccel[i])
		}
		if math.Abs(r.Gyro[i]-wantGyro[i]) > 1e-9 {
			t.Errorf("Gyro[%d] = %v, want %v", i, r.Gyro[i], wantGyro[i])
		}
	}
	if math.Abs(r.Temperature-36.53) > 1e-9 {
		t.Errorf("Temperature = %v, want 36.53", r.Temperature)
	}
}

func TestReadPropagatesBusError(t *testing.T) {
	bus := newFakeBus()
	d, err := New(bus, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	boom := errors.New("bus fault")
	bus.failTx = boom
	if _, err := d.Read(); !errors.Is(err, boom) {
		t.Fatalf("Read() error = %v, want wrapped bus fault", err)
	}
}
