package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
)

func printIMUStatus(cmd *cobra.Command, s *imu.Status) {
	cmd.Printf("  %s available (%s)\n", bool2Text(s.Available), s.State)
	if s.LastError != nil {
		cmd.Printf("  last error: %s\n", *s.LastError)
	}
	if !s.LastUpdate.IsZero() {
		cmd.Printf("  last update: %s (%s ago)\n", s.LastUpdate.Format(time.RFC3339), time.Since(s.LastUpdate).Round(time.Second))
	}
}

func NewIMUCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "imu",
		Short:   "Read the MPU-6050 motion sensor",
		GroupID: gSensor,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the sensor is available",
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := apiClient.GetIMUStatus()
				if err != nil {
					return err
				}
				cmd.Println(bold("IMU:"))
				printIMUStatus(cmd, s)
				return nil
			},
		},
		&cobra.Command{
			Use:   "raw",
			Short: "Take one raw sample (g and °/s)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := apiClient.GetIMURaw()
				if err != nil {
					return err
				}
				cmd.Printf("  accel: x=%.3fg y=%.3fg z=%.3fg\n", s.Ax, s.Ay, s.Az)
				cmd.Printf("  gyro:  x=%.2f°/s y=%.2f°/s z=%.2f°/s\n", s.Gx, s.Gy, s.Gz)
				return nil
			},
		},
		&cobra.Command{
			Use:   "angles",
			Short: "Update and print the orientation estimate",
			RunE: func(cmd *cobra.Command, _ []string) error {
				e, err := apiClient.GetIMUAngles()
				if err != nil {
					return err
				}
				cmd.Printf("  pitch=%.2f° roll=%.2f° yaw=%.2f°\n", e.Pitch, e.Roll, e.Yaw)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Drop the sensor handle and orientation so the next read starts over",
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := apiClient.ResetIMU()
				if err != nil {
					return err
				}
				cmd.Println(bold("IMU reset:"))
				printIMUStatus(cmd, s)
				return nil
			},
		},
	)

	return cmd
}
