package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/led"
	"github.com/Pcarioca/Raspberry-Control/pkg/routine"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
	"github.com/Pcarioca/Raspberry-Control/pkg/version"
)

// Problem is an RFC 7807 style error body.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func isUnknown(err error) bool {
	return errors.Is(err, servo.ErrUnknownRoutine) ||
		errors.Is(err, led.ErrUnknownPattern) ||
		errors.Is(err, routine.ErrUnknownCombo) ||
		errors.Is(err, routine.ErrUnknownGyro) ||
		errors.Is(err, routine.ErrUnknownRoutine)
}

// abortWithError maps err to a status code and writes the matching body.
func abortWithError(c *gin.Context, err error) {
	var status int
	var body any
	switch {
	case errors.Is(err, imu.ErrSensorUnavailable):
		logrus.Warnf("sensor unavailable: %v", err)
		status = http.StatusServiceUnavailable
		body = Problem{Title: "MPU-6050 sensor unavailable", Detail: err.Error(), Status: status}
	case errors.Is(err, imu.ErrUnexpected):
		status = http.StatusInternalServerError
		body = Problem{Title: "Unexpected MPU-6050 error", Detail: err.Error(), Status: status}
	case isUnknown(err):
		status = http.StatusNotFound
		body = gin.H{"ok": false, "error": err.Error()}
	default:
		status = http.StatusInternalServerError
		body = gin.H{"ok": false, "error": err.Error()}
	}
	c.IndentedJSON(status, body)
	_ = c.AbortWithError(status, err)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"version": version.Version, "gitCommit": version.GitCommit})
}

func setGpio(on bool) gin.HandlerFunc {
	state := "off"
	set := func() error { return ledDrv.TurnOff() }
	if on {
		state = "on"
		set = func() error { return ledDrv.TurnOn() }
	}
	return func(c *gin.Context) {
		if err := set(); err != nil {
			abortWithError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "led": state})
	}
}

func rotate(c *gin.Context) {
	angle, err := strconv.Atoi(c.Param("angle"))
	if err != nil || angle < servo.MinAngle || angle > servo.MaxAngle {
		err := fmt.Errorf("angle must be %d-%d, got %q", servo.MinAngle, servo.MaxAngle, c.Param("angle"))
		c.IndentedJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Angle must be 0-180"})
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if _, err := servoDrv.RotateTo(c.Request.Context(), angle); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "angle": servoDrv.CurrentAngle()})
}

func wave(c *gin.Context) {
	if err := executor.Run(c.Request.Context(), routine.KindServo, "wave"); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "routine": "wave"})
}

func runServoRoutine(c *gin.Context) {
	name := c.Param("routine")
	if !servo.Has(name) {
		abortWithError(c, fmt.Errorf("%w: %q", servo.ErrUnknownRoutine, name))
		return
	}
	if err := executor.Run(c.Request.Context(), routine.KindServo, name); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "routine": name})
}

func runLedPattern(c *gin.Context) {
	name := c.Param("pattern")
	if !led.Has(name) {
		abortWithError(c, fmt.Errorf("%w: %q", led.ErrUnknownPattern, name))
		return
	}

	if ledDrv.Throttled() {
		err := fmt.Errorf("pattern %s throttled", name)
		c.IndentedJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "Pattern throttled"})
		_ = c.AbortWithError(http.StatusTooManyRequests, err)
		return
	}

	if err := executor.Run(c.Request.Context(), routine.KindLed, name); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "pattern": name})
}

func runCombo(c *gin.Context) {
	name := c.Param("name")
	if !routine.HasCombo(name) {
		abortWithError(c, fmt.Errorf("%w: %q", routine.ErrUnknownCombo, name))
		return
	}
	if err := executor.Combo(c.Request.Context(), name); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true, "combo": name})
}

func getGyroStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, sensor.Status())
}

func getGyroRaw(c *gin.Context) {
	raw, err := sensor.ReadRaw(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, raw)
}

func getGyroAngles(c *gin.Context) {
	est, err := sensor.UpdateAngles(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, est)
}

// readThen takes a fresh sample and then answers from it.
func readThen(key string, fn func() (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := sensor.ReadRaw(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		v, err := fn()
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, gin.H{key: v})
	}
}

var getGyroMagnitude = readThen("magnitude", func() (any, error) {
	return sensor.GyroMagnitude()
})

var getGyroFreefall = readThen("freefall", func() (any, error) {
	return sensor.IsFreefall(imu.DefaultFreefallThresholdG)
})

var getGyroStability = readThen("stable", func() (any, error) {
	return sensor.IsStable(imu.DefaultStableThresholdDPS)
})

func resetGyro(c *gin.Context) {
	if err := sensor.Reinitialize(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	logrus.Info("IMU reset")
	c.IndentedJSON(http.StatusOK, sensor.Status())
}

func runGyroRoutine(c *gin.Context) {
	name := c.Param("name")
	if !routine.HasGyro(name) {
		abortWithError(c, fmt.Errorf("%w: %q", routine.ErrUnknownGyro, name))
		return
	}
	res, err := executor.Gyro(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func pidStart(c *gin.Context) {
	if err := pidCtl.Start(); err != nil {
		c.IndentedJSON(http.StatusOK, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true})
}

func pidStop(c *gin.Context) {
	if err := pidCtl.Stop(); err != nil {
		c.IndentedJSON(http.StatusOK, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"ok": true})
}

func getLocks(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, lockMgr.Held())
}

func getRoutines(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, routine.List())
}

func getSchedules(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, schedules.Status())
}

func scheduleIndex(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return 0, false
	}
	return i, true
}

func scheduleError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrNoSuchSchedule) {
		status = http.StatusNotFound
	}
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}

func skipSchedule(c *gin.Context) {
	i, ok := scheduleIndex(c)
	if !ok {
		return
	}
	if err := schedules.Skip(i); err != nil {
		scheduleError(c, err)
		return
	}
	logrus.Infof("skipped next run of schedule %d", i)
	c.IndentedJSON(http.StatusCreated, schedules.Status()[i])
}

// postponeSchedule takes a Go duration string, such as "90s", as its body.
func postponeSchedule(c *gin.Context) {
	i, ok := scheduleIndex(c)
	if !ok {
		return
	}

	var s string
	if err := c.BindJSON(&s); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := schedules.Postpone(i, d); err != nil {
		scheduleError(c, err)
		return
	}
	logrus.Infof("postponed schedule %d by %s", i, d)
	c.IndentedJSON(http.StatusCreated, schedules.Status()[i])
}
