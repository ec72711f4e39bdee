package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pcarioca/Raspberry-Control/pkg/daemon"
	"github.com/Pcarioca/Raspberry-Control/pkg/version"
)

var (
	listenAddress = ""
	simulate      = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run the rpictl daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("rpictl daemon starting")
			return daemon.Run(configPath, listenAddress, simulate)
		},
	}

	f := cmd.Flags()

	f.StringVar(&listenAddress, "listen", "", "address to listen on, overrides listenAddress in the config")
	f.BoolVar(&simulate, "simulate", false, "use in-memory pins and a simulated IMU instead of real hardware")

	return cmd
}
