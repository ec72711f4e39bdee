package pid

import (
	"errors"
	"testing"
)

func TestStub(t *testing.T) {
	c := New(Gains{Kp: 1})
	if err := c.Start(); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Running() {
		t.Fatal("controller reports running")
	}
	if c.Gains().Kp != 1 {
		t.Fatalf("Gains() = %+v", c.Gains())
	}
}
