package daemon

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/board"
	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	"github.com/Pcarioca/Raspberry-Control/pkg/events"
	"github.com/Pcarioca/Raspberry-Control/pkg/imu"
	"github.com/Pcarioca/Raspberry-Control/pkg/led"
	"github.com/Pcarioca/Raspberry-Control/pkg/locks"
	"github.com/Pcarioca/Raspberry-Control/pkg/mpu6050"
	"github.com/Pcarioca/Raspberry-Control/pkg/pid"
	"github.com/Pcarioca/Raspberry-Control/pkg/routine"
	"github.com/Pcarioca/Raspberry-Control/pkg/servo"
	"github.com/Pcarioca/Raspberry-Control/pkg/telemetry"
)

var (
	conf      config.Config
	lockMgr   *locks.Manager
	sensor    *imu.Sensor
	servoDrv  *servo.Servo
	ledDrv    *led.Led
	executor  *routine.Executor
	pidCtl    *pid.Controller
	sseHub    *events.EventHub
	schedules = &scheduleSet{}

	// hwSleep is passed to the drivers; nil means time.Sleep.
	hwSleep func(time.Duration)
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/gpio/on", setGpio(true))
	router.GET("/gpio/off", setGpio(false))

	router.GET("/rotate/:angle", rotate)
	router.GET("/wave", wave)
	router.GET("/servo/:routine", runServoRoutine)

	router.GET("/led/:pattern", runLedPattern)
	router.GET("/combo/:name", runCombo)

	router.GET("/gyro/status", getGyroStatus)
	router.GET("/gyro/raw", getGyroRaw)
	router.GET("/gyro/angles", getGyroAngles)
	router.GET("/gyro/update", getGyroAngles)
	router.GET("/gyro/magnitude", getGyroMagnitude)
	router.GET("/gyro/freefall", getGyroFreefall)
	router.GET("/gyro/stabilityCheck", getGyroStability)
	router.PUT("/gyro/reset", resetGyro)
	router.GET("/gyro/fun/:name", runGyroRoutine)

	router.GET("/pid/start", pidStart)
	router.GET("/pid/stop", pidStop)

	router.GET("/routines", getRoutines)
	router.GET("/locks", getLocks)
	router.GET("/schedules", getSchedules)
	router.PUT("/schedules/:index/skip", skipSchedule)
	router.PUT("/schedules/:index/postpone", postponeSchedule)

	router.GET("/config", getConfig)
	router.GET("/version", getVersion)

	router.GET("/events", streamEvents)
	router.GET("/ws/orientation", streamOrientation)

	return router
}

// setupHardware builds the drivers on top of b and publishes their state
// changes to the event hub.
func setupHardware(b *board.Board) {
	seed := time.Now().UnixNano()

	lockMgr = locks.New()
	sseHub = events.NewEventHub()
	pidCtl = pid.New(pid.Gains{})

	sensor = imu.New(lockMgr, b.IMUOpener, nil)
	sensor.OnTransition(func(t imu.Transition) {
		ev := events.IMUStateEvent{From: t.From.String(), To: t.To.String(), Ts: time.Now().UnixMilli()}
		if t.Err != nil {
			ev.Error = t.Err.Error()
		}
		sseHub.Publish(events.IMUState, ev)
	})

	servoDrv = servo.New(b.Servo, lockMgr, servo.Options{
		Settle: conf.ServoSettle(),
		Sleep:  hwSleep,
		Rand:   rand.New(rand.NewSource(seed)),
	})
	ledDrv = led.New(b.Led, lockMgr, led.Options{
		ThrottleWindow: conf.LedThrottle(),
		Sleep:          hwSleep,
		Rand:           rand.New(rand.NewSource(seed + 1)),
	})

	executor = routine.New(lockMgr, servoDrv, ledDrv, sensor, routine.Options{
		Sleep: hwSleep,
		Rand:  rand.New(rand.NewSource(seed + 2)),
	})
	executor.OnRun = func(kind, name string, err error) {
		ev := events.RoutineRunEvent{Kind: kind, Name: name, OK: err == nil, Ts: time.Now().UnixMilli()}
		if err != nil {
			ev.Error = err.Error()
		}
		sseHub.Publish(events.RoutineRun, ev)
	}
}

func closeHardware() {
	logrus.Info("closing IMU")
	if err := sensor.Close(); err != nil {
		logrus.Errorf("failed to close IMU: %v", err)
	}

	logrus.Info("releasing servo")
	if err := servoDrv.Close(); err != nil {
		logrus.Errorf("failed to release servo: %v", err)
	}

	logrus.Info("turning LED off")
	if err := ledDrv.Close(); err != nil {
		logrus.Errorf("failed to release LED: %v", err)
	}
}

func boardOptions(c config.Config) board.Options {
	opts := mpu6050.DefaultOpts
	opts.Addr = c.IMUAddress()
	return board.Options{
		ServoPin: c.ServoPin(),
		LedPin:   c.LedPin(),
		I2CBus:   c.I2CBus(),
		IMU:      opts,
		Simulate: c.Simulate(),
	}
}

// startTelemetry runs the sampler when an interval is configured. The
// returned function stops it and disconnects from MQTT.
func startTelemetry(ctx context.Context) func() {
	interval := conf.TelemetryInterval()
	if interval <= 0 {
		return func() {}
	}

	sampler := telemetry.NewSampler(sensor, interval, telemetry.SinkFunc(func(p telemetry.Point) error {
		sseHub.Publish(events.IMUOrientation, events.IMUOrientationEvent(p))
		return nil
	}))

	var mqttPub *telemetry.MQTTPublisher
	if broker := conf.MQTTBroker(); broker != "" {
		var err error
		mqttPub, err = telemetry.NewMQTTPublisher(broker, conf.MQTTClientID(), conf.MQTTTopic())
		if err != nil {
			logrus.WithError(err).Error("MQTT publishing disabled")
		} else {
			sampler.AddSink(mqttPub)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sampler.Run(ctx)
	}()

	return func() {
		cancel()
		<-done
		if mqttPub != nil {
			mqttPub.Close()
		}
	}
}

// Run starts the daemon and blocks until SIGINT or SIGTERM. A non-empty
// listenAddress overrides the config, as does simulate.
func Run(configPath string, listenAddress string, simulate bool) error {
	router := setupRoutes()

	f, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	if simulate {
		f.SetSimulate(true)
	}
	conf = f
	logrus.WithFields(f.LogrusFields()).Infof("config loaded")

	b, err := board.Open(boardOptions(conf))
	if err != nil {
		logrus.Fatalf("failed to open board: %v", err)
	}
	setupHardware(b)

	// The sensor is optional; this only logs whether it is there.
	sensor.Initialize()

	schedules.Apply(conf.Schedules())

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			schedules.Apply(conf.Schedules())
			logrus.Infof("config reloaded")
		}
	}()

	if listenAddress == "" {
		listenAddress = conf.ListenAddress()
	}
	l, err := net.Listen("tcp", listenAddress)
	if err != nil {
		logrus.Fatal(err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	stopTelemetry := startTelemetry(context.Background())

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping schedules")
	schedules.Stop()

	logrus.Info("stopping telemetry")
	stopTelemetry()

	closeHardware()

	logrus.Info("exiting")
	return nil
}
