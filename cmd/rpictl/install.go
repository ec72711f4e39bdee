package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	daemonutils "github.com/Pcarioca/Raspberry-Control/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "install",
		Short:   "Install the rpictl daemon as a systemd service",
		GroupID: gAdvanced,
		Long: `Install the rpictl daemon as a systemd service.

This makes rpictl run in the background and start on boot. A default config is
written first if none exists. You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := config.NewFileFromConfig(config.DefaultRawFileConfig(), configPath).Save(); err != nil {
					return fmt.Errorf("failed to write default config: %w", err)
				}
				logrus.Infof("default config written to %s", configPath)
			}

			err := daemonutils.Install(configPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()
			cmd.Printf("systemd will use the current binary (%s), so do not move it. If you do, run `rpictl install' again.\n", exePath)

			return nil
		},
	}
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Stop and remove the rpictl systemd service",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			cmd.Printf("Your config is kept in %s. Remove it and the rpictl binary by hand for a complete uninstall.\n", configPath)

			return nil
		},
	}
}
