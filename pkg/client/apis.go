package client

import (
	"encoding/json"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/orientation"
	"github.com/Pcarioca/Raspberry-Control/pkg/routine"
)

// Schedule mirrors the daemon's view of one configured schedule.
type Schedule struct {
	Index   int       `json:"index"`
	Cron    string    `json:"cron"`
	Routine string    `json:"routine"`
	NextRun time.Time `json:"nextRun"`
	Running bool      `json:"running"`
}

// Version is the daemon's build information.
type Version struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) SetLed(on bool) error {
	path := "/gpio/off"
	if on {
		path = "/gpio/on"
	}
	_, err := c.Get(path)
	return err
}

// Rotate moves the servo and returns the angle the daemon reports.
func (c *Client) Rotate(angle int) (int, error) {
	ret, err := c.Get("/rotate/" + strconv.Itoa(angle))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to rotate to %d", angle)
	}
	var r struct {
		Angle int `json:"angle"`
	}
	if err := json.Unmarshal([]byte(ret), &r); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal rotate response")
	}
	return r.Angle, nil
}

func (c *Client) RunServoRoutine(name string) error {
	_, err := c.Get("/servo/" + name)
	return pkgerrors.Wrapf(err, "servo routine %s", name)
}

func (c *Client) RunLedPattern(name string) error {
	_, err := c.Get("/led/" + name)
	return pkgerrors.Wrapf(err, "LED pattern %s", name)
}

func (c *Client) RunCombo(name string) error {
	_, err := c.Get("/combo/" + name)
	return pkgerrors.Wrapf(err, "combo %s", name)
}

func (c *Client) RunGyroRoutine(name string) (*routine.Result, error) {
	return getJSON[routine.Result](c, "/gyro/fun/"+name, "gyro routine "+name)
}

func (c *Client) GetIMUStatus() (*imu.Status, error) {
	return getJSON[imu.Status](c, "/gyro/status", "IMU status")
}

func (c *Client) GetIMURaw() (*imu.Sample, error) {
	return getJSON[imu.Sample](c, "/gyro/raw", "IMU sample")
}

func (c *Client) GetIMUAngles() (*orientation.Estimate, error) {
	return getJSON[orientation.Estimate](c, "/gyro/angles", "IMU angles")
}

func (c *Client) ResetIMU() (*imu.Status, error) {
	ret, err := c.Put("/gyro/reset", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to reset IMU")
	}
	var st imu.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal IMU status")
	}
	return &st, nil
}

func (c *Client) GetRoutines() (*routine.Catalog, error) {
	return getJSON[routine.Catalog](c, "/routines", "routines")
}

func (c *Client) GetSchedules() ([]Schedule, error) {
	s, err := getJSON[[]Schedule](c, "/schedules", "schedules")
	if err != nil {
		return nil, err
	}
	return *s, nil
}

func (c *Client) SkipSchedule(i int) (string, error) {
	return c.Put("/schedules/"+strconv.Itoa(i)+"/skip", "")
}

func (c *Client) PostponeSchedule(i int, d time.Duration) (string, error) {
	payload, err := json.Marshal(d.String())
	if err != nil {
		return "", err
	}
	return c.Put("/schedules/"+strconv.Itoa(i)+"/postpone", string(payload))
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) GetVersion() (*Version, error) {
	return getJSON[Version](c, "/version", "version")
}
