package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pcarioca/Raspberry-Control/pkg/led"
	"github.com/Pcarioca/Raspberry-Control/pkg/routine"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
	"github.com/Pcarioca/Raspberry-Control/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("client: %s %s\n", version.Version, version.GitCommit)
			if v, err := apiClient.GetVersion(); err == nil {
				cmd.Printf("daemon: %s %s\n", v.Version, v.GitCommit)
			}
		},
	}
}

func NewServoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servo",
		Short:   "Move the servo",
		GroupID: gActuators,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "rotate [angle]",
			Short: "Rotate to an angle between 0 and 180 and wait for it to settle",
			RunE: func(_ *cobra.Command, args []string) error {
				angle, err := parseIntArg(args, "angle")
				if err != nil {
					return err
				}
				got, err := apiClient.Rotate(angle)
				if err != nil {
					return err
				}
				logrus.Infof("servo at %d°", got)
				return nil
			},
		},
		&cobra.Command{
			Use:   "routine [name]",
			Short: "Run a servo routine",
			Long:  "Run a servo routine. Available routines: " + strings.Join(servo.Routines(), ", "),
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if err := apiClient.RunServoRoutine(args[0]); err != nil {
					return err
				}
				logrus.Infof("servo routine %s done", args[0])
				return nil
			},
		},
	)

	return cmd
}

func NewLedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "led",
		Short:   "Switch the LED or play a pattern",
		GroupID: gActuators,
	}

	onOff := func(on bool) *cobra.Command {
		state := "off"
		if on {
			state = "on"
		}
		return &cobra.Command{
			Use:   state,
			Short: "Turn the LED " + state,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := apiClient.SetLed(on); err != nil {
					return fmt.Errorf("failed to turn LED %s: %v", state, err)
				}
				logrus.Infof("LED %s", state)
				return nil
			},
		}
	}

	cmd.AddCommand(
		onOff(true),
		onOff(false),
		&cobra.Command{
			Use:   "pattern [name]",
			Short: "Play an LED pattern",
			Long:  "Play an LED pattern. Available patterns: " + strings.Join(led.Patterns(), ", "),
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if err := apiClient.RunLedPattern(args[0]); err != nil {
					return err
				}
				logrus.Infof("LED pattern %s done", args[0])
				return nil
			},
		},
	)

	return cmd
}

func NewComboCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "combo [name]",
		Short:   "Run a routine that uses both the servo and the LED",
		Long:    "Run a combo routine. Available combos: " + strings.Join(routine.Combos(), ", "),
		GroupID: gActuators,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := apiClient.RunCombo(args[0]); err != nil {
				return err
			}
			logrus.Infof("combo %s done", args[0])
			return nil
		},
	}
}

func NewGyroCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "gyro [routine]",
		Short:   "Run a motion-driven routine",
		Long:    "Run a motion-driven routine. Available routines: " + strings.Join(routine.Gyros(), ", "),
		GroupID: gSensor,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient.RunGyroRoutine(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s %s: %s\n", bool2Text(res.OK), bold("%s", res.Name), res.Description)
			if res.Data != nil {
				cmd.Printf("  %v\n", res.Data)
			}
			return nil
		},
	}
}

func NewRoutinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "routines",
		Short:   "List every routine the daemon knows",
		GroupID: gActuators,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient.GetRoutines()
			if err != nil {
				return err
			}
			for _, g := range []struct {
				title string
				names []string
			}{
				{"Servo routines:", c.Servo},
				{"LED patterns:", c.Led},
				{"Combos:", c.Combo},
				{"Gyro routines:", c.Gyro},
			} {
				cmd.Println(bold("%s", g.title))
				for _, n := range g.names {
					cmd.Println("  " + n)
				}
			}
			return nil
		},
	}
}
