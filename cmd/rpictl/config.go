package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pcarioca/Raspberry-Control/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Write or show the config",
		GroupID: gAdvanced,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
			}
			if err := config.NewFileFromConfig(config.DefaultRawFileConfig(), configPath).Save(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			logrus.Infof("default config written to %s", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print the config the daemon is running with",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := apiClient.GetConfig()
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(c, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			},
		},
	)

	return cmd
}
