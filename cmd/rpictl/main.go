package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Pcarioca/Raspberry-Control/pkg/client"
	"github.com/Pcarioca/Raspberry-Control/pkg/version"
)

var (
	logLevel      = "info"
	daemonAddress = "127.0.0.1:5000"
	configPath    = "/etc/rpictl.json"
)

var apiClient *client.Client

var (
	gActuators = "Actuators:"
	gSensor    = "Sensor:"
	gAdvanced  = "Advanced:"

	commandGroups = []string{
		gActuators,
		gSensor,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: rpictl daemon is not running")
		fmt.Fprintf(os.Stderr, "Is the daemon listening on %s? Start it with 'rpictl daemon'.\n", daemonAddress)
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpictl",
		Short: "rpictl drives a servo, an LED and an MPU-6050 on a Raspberry Pi",
		Long: `rpictl drives a servo, an LED and an MPU-6050 motion sensor on a Raspberry Pi.

Run "rpictl daemon" on the Pi, then use the other commands to talk to it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			apiClient = client.NewClient(daemonAddress)

			// The daemon and config commands do not talk to a daemon.
			top := cmd
			for top.HasParent() && top.Parent().HasParent() {
				top = top.Parent()
			}
			if top.GroupID == gAdvanced {
				return nil
			}
			if v, err := apiClient.GetVersion(); err == nil && v.Version != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"daemonVersion": v.Version,
				}).Warn("version mismatch between client and daemon")
			}
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&daemonAddress, "daemon-address", daemonAddress, "rpictl daemon address (host:port)")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewServoCommand(),
		NewLedCommand(),
		NewComboCommand(),
		NewGyroCommand(),
		NewIMUCommand(),
		NewRoutinesCommand(),
		NewScheduleCommand(),
		NewConfigCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
