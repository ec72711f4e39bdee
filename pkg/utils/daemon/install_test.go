package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/rpictl", "/etc/rpictl.json")
	if !strings.Contains(u, "ExecStart=/usr/local/bin/rpictl daemon --config /etc/rpictl.json\n") {
		t.Fatalf("unexpected unit:\n%s", u)
	}
	if strings.Contains(u, "/path/to") {
		t.Fatalf("placeholders left in unit:\n%s", u)
	}
}

func fakeSystemctl(t *testing.T, failOn string) *[][]string {
	t.Helper()
	var calls [][]string
	orig := systemctl
	systemctl = func(args ...string) error {
		calls = append(calls, args)
		if args[0] == failOn {
			return errors.New("exit status 1")
		}
		return nil
	}
	t.Cleanup(func() { systemctl = orig })
	return &calls
}

func TestWriteAndRemoveUnit(t *testing.T) {
	calls := fakeSystemctl(t, "")
	path := filepath.Join(t.TempDir(), "system", serviceName)

	if err := writeUnit(path, "unit"); err != nil {
		t.Fatalf("writeUnit: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "unit" {
		t.Fatalf("unit file = %q, %v", b, err)
	}

	if err := removeUnit(path); err != nil {
		t.Fatalf("removeUnit: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("unit file still present: %v", err)
	}

	want := [][]string{
		{"daemon-reload"},
		{"enable", "--now", serviceName},
		{"disable", "--now", serviceName},
		{"daemon-reload"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestWriteUnitEnableFailure(t *testing.T) {
	fakeSystemctl(t, "enable")
	path := filepath.Join(t.TempDir(), serviceName)

	err := writeUnit(path, "unit")
	if err == nil || !strings.Contains(err.Error(), "failed to enable") {
		t.Fatalf("err = %v", err)
	}
}
