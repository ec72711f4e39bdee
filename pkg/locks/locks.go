// Package locks coordinates exclusive access to the hardware peripherals.
//
// There is one token per contention domain. Domains are independent: holding
// the Servo token never blocks a request for the Led token. Waiters on the same
// domain are admitted in FIFO order.
//
// Tokens are not re-entrant. A holder must never try to acquire its own domain
// again; drivers guarantee this by only calling unexported, lock-free helpers
// from inside a locked section.
package locks

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Domain is a named contention scope.
type Domain int

const (
	// Servo serializes servo motion sequences.
	Servo Domain = iota
	// Led serializes LED patterns.
	Led
	// Combo serializes choreography spanning servo and LED.
	Combo
	// Imu serializes I2C transactions with the motion sensor.
	Imu

	numDomains
)

func (d Domain) String() string {
	switch d {
	case Servo:
		return "servo"
	case Led:
		return "led"
	case Combo:
		return "combo"
	case Imu:
		return "imu"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// Domains lists every domain.
func Domains() []Domain {
	return []Domain{Servo, Led, Combo, Imu}
}

// Manager holds one exclusive token per domain. It owns no hardware state.
type Manager struct {
	sems [numDomains]*semaphore.Weighted
}

// New returns a Manager with all tokens free.
func New() *Manager {
	m := &Manager{}
	for i := range m.sems {
		m.sems[i] = semaphore.NewWeighted(1)
	}
	return m
}

// Acquire blocks until the token for d is free or ctx is done. The returned
// release function must be called exactly once; extra calls are no-ops.
//
// ctx is only consulted while waiting. Once admitted, the holder keeps the token
// until it calls release.
func (m *Manager) Acquire(ctx context.Context, d Domain) (func(), error) {
	sem, err := m.sem(d)
	if err != nil {
		return nil, err
	}

	logrus.WithField("domain", d).Trace("acquiring hardware lock")
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", d, err)
	}
	logrus.WithField("domain", d).Trace("hardware lock acquired")

	released := false
	return func() {
		if released {
			return
		}
		released = true
		sem.Release(1)
		logrus.WithField("domain", d).Trace("hardware lock released")
	}, nil
}

// TryAcquire acquires the token for d without blocking. ok is false if the
// token is held by someone else.
func (m *Manager) TryAcquire(d Domain) (release func(), ok bool) {
	sem, err := m.sem(d)
	if err != nil {
		return nil, false
	}
	if !sem.TryAcquire(1) {
		return nil, false
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		sem.Release(1)
	}, true
}

// Held reports, per domain name, whether the token is currently taken. It is
// a snapshot for diagnostics: probing briefly takes each free token.
func (m *Manager) Held() map[string]bool {
	held := make(map[string]bool, numDomains)
	for _, d := range Domains() {
		release, ok := m.TryAcquire(d)
		if ok {
			release()
		}
		held[d.String()] = !ok
	}
	return held
}

// WithLock runs fn while holding the token for d. The token is released on
// every exit path, including a panic inside fn.
func (m *Manager) WithLock(ctx context.Context, d Domain, fn func() error) error {
	release, err := m.Acquire(ctx, d)
	if err != nil {
		return err
	}
	defer release()

	return fn()
}

func (m *Manager) sem(d Domain) (*semaphore.Weighted, error) {
	if d < 0 || d >= numDomains {
		return nil, fmt.Errorf("unknown lock domain %d", int(d))
	}
	return m.sems[d], nil
}
