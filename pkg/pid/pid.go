// Package pid reserves the servo stabilization controller. It will consume
// target pitch/roll angles and drive the servo; for now Start and Stop only
// report that it is not available.
package pid

import (
	"errors"
	"sync"
)

var ErrNotImplemented = errors.New("PID not implemented yet")

// Gains are the controller coefficients.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

type Controller struct {
	mu      sync.Mutex
	gains   Gains
	running bool
}

func New(g Gains) *Controller {
	return &Controller{gains: g}
}

func (c *Controller) Gains() Gains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// TODO: accumulate the integral term and track the previous error so Update
// can produce a correction, then let Start drive the servo from UpdateAngles.
func (c *Controller) Start() error {
	return ErrNotImplemented
}

func (c *Controller) Stop() error {
	return ErrNotImplemented
}
