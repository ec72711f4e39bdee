package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Show, skip or postpone scheduled routines",
		GroupID: gActuators,
		Long: `Show, skip or postpone scheduled routines.

Schedules are set in the config file as a cron expression and a routine
("kind/name"). Edit the file and send SIGHUP to the daemon to reload them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := apiClient.GetSchedules()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("No schedules configured.")
				return nil
			}
			for _, s := range list {
				cmd.Printf("%s %s %s\n", bold("[%d]", s.Index), s.Routine, s.Cron)
				if s.NextRun.IsZero() {
					continue
				}
				state := "next run"
				if s.Running {
					state = "running, next run"
				}
				cmd.Printf("    %s at %s (in %s)\n", state, s.NextRun.Format(time.DateTime), time.Until(s.NextRun).Round(time.Second))
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "skip [index]",
			Short: "Skip the next run of a schedule",
			RunE: func(_ *cobra.Command, args []string) error {
				i, err := parseIntArg(args, "index")
				if err != nil {
					return err
				}
				if _, err := apiClient.SkipSchedule(i); err != nil {
					return fmt.Errorf("failed to skip schedule %d: %w", i, err)
				}
				logrus.Infof("skipped next run of schedule %d", i)
				return nil
			},
		},
		&cobra.Command{
			Use:   "postpone [index] [duration]",
			Short: "Postpone the next run of a schedule (default 1h)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(_ *cobra.Command, args []string) error {
				i, err := parseIntArg(args[:1], "index")
				if err != nil {
					return err
				}
				d := time.Hour
				if len(args) == 2 {
					d, err = time.ParseDuration(args[1])
					if err != nil {
						return fmt.Errorf("invalid duration: %v", err)
					}
				}
				if _, err := apiClient.PostponeSchedule(i, d); err != nil {
					return fmt.Errorf("failed to postpone schedule %d: %w", i, err)
				}
				logrus.Infof("postponed schedule %d by %s", i, d)
				return nil
			},
		},
	)

	return cmd
}
