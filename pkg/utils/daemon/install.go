package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const serviceName = "rpictl.service"

var (
	unitPath = "/etc/systemd/system/" + serviceName

	// systemctl is swapped out in tests.
	systemctl = func(args ...string) error {
		return exec.Command("/bin/systemctl", args...).Run()
	}
)

const unitTemplate = `[Unit]
Description=rpictl Raspberry Pi peripheral daemon
After=network.target

[Service]
ExecStart=/path/to/rpictl daemon --config /path/to/config
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure

[Install]
WantedBy=multi-user.target
`

// Unit renders the systemd unit for the given binary and config path.
func Unit(exePath, configPath string) string {
	return strings.NewReplacer(
		"/path/to/rpictl", exePath,
		"/path/to/config", configPath,
	).Replace(unitTemplate)
}

func Install(configPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	return writeUnit(unitPath, Unit(exePath, configPath))
}

func writeUnit(path, unit string) error {
	logrus.Infof("writing systemd unit to %s", path)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	// warn if the file already exists
	_, err = os.Stat(path)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", path)
	}

	err = os.WriteFile(path, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	logrus.Infof("starting rpictl")

	if err := systemctl("enable", "--now", serviceName); err != nil {
		return fmt.Errorf("failed to enable %s: %w", serviceName, err)
	}

	return nil
}
