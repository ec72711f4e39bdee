package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		ListenAddress:       ptr.To(":5000"),
		ServoPin:            ptr.To("GPIO18"),
		LedPin:              ptr.To("GPIO17"),
		I2CBus:              ptr.To("1"),
		IMUAddress:          ptr.To(uint16(0x68)),
		Simulate:            ptr.To(false),
		ServoSettleMs:       ptr.To(500),
		LedThrottleMs:       ptr.To(200),
		TelemetryIntervalMs: ptr.To(0),
		MQTTBroker:          ptr.To(""),
		MQTTTopic:           ptr.To("rpictl/orientation"),
		MQTTClientID:        ptr.To("rpictl"),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Nil fields fall back to the defaults.
type RawFileConfig struct {
	ListenAddress       *string    `json:"listenAddress,omitempty"`
	ServoPin            *string    `json:"servoPin,omitempty"`
	LedPin              *string    `json:"ledPin,omitempty"`
	I2CBus              *string    `json:"i2cBus,omitempty"`
	IMUAddress          *uint16    `json:"imuAddress,omitempty"`
	Simulate            *bool      `json:"simulate,omitempty"`
	ServoSettleMs       *int       `json:"servoSettleMs,omitempty"`
	LedThrottleMs       *int       `json:"ledThrottleMs,omitempty"`
	TelemetryIntervalMs *int       `json:"telemetryIntervalMs,omitempty"`
	MQTTBroker          *string    `json:"mqttBroker,omitempty"`
	MQTTTopic           *string    `json:"mqttTopic,omitempty"`
	MQTTClientID        *string    `json:"mqttClientID,omitempty"`
	Schedules           []Schedule `json:"schedules,omitempty"`
}

// DefaultRawFileConfig returns a fully populated copy of the defaults, used by
// "config init".
func DefaultRawFileConfig() *RawFileConfig {
	c := *defaultFileConfig
	c.Schedules = []Schedule{}
	return &c
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		ListenAddress:       ptr.To(c.ListenAddress()),
		ServoPin:            ptr.To(c.ServoPin()),
		LedPin:              ptr.To(c.LedPin()),
		I2CBus:              ptr.To(c.I2CBus()),
		IMUAddress:          ptr.To(c.IMUAddress()),
		Simulate:            ptr.To(c.Simulate()),
		ServoSettleMs:       ptr.To(int(c.ServoSettle() / time.Millisecond)),
		LedThrottleMs:       ptr.To(int(c.LedThrottle() / time.Millisecond)),
		TelemetryIntervalMs: ptr.To(int(c.TelemetryInterval() / time.Millisecond)),
		MQTTBroker:          ptr.To(c.MQTTBroker()),
		MQTTTopic:           ptr.To(c.MQTTTopic()),
		MQTTClientID:        ptr.To(c.MQTTClientID()),
		Schedules:           c.Schedules(),
	}

	return rawConfig, nil
}

// read runs fn with the read lock held.
func (f *File) read(fn func(c *RawFileConfig)) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	fn(f.c)
}

func (f *File) ListenAddress() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.ListenAddress, *defaultFileConfig.ListenAddress) })
	return
}

func (f *File) ServoPin() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.ServoPin, *defaultFileConfig.ServoPin) })
	return
}

func (f *File) LedPin() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.LedPin, *defaultFileConfig.LedPin) })
	return
}

func (f *File) I2CBus() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.I2CBus, *defaultFileConfig.I2CBus) })
	return
}

func (f *File) IMUAddress() (v uint16) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.IMUAddress, *defaultFileConfig.IMUAddress) })
	return
}

func (f *File) Simulate() (v bool) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.Simulate, *defaultFileConfig.Simulate) })
	return
}

func (f *File) ServoSettle() (v time.Duration) {
	f.read(func(c *RawFileConfig) {
		v = time.Duration(ptr.Deref(c.ServoSettleMs, *defaultFileConfig.ServoSettleMs)) * time.Millisecond
	})
	return
}

func (f *File) LedThrottle() (v time.Duration) {
	f.read(func(c *RawFileConfig) {
		v = time.Duration(ptr.Deref(c.LedThrottleMs, *defaultFileConfig.LedThrottleMs)) * time.Millisecond
	})
	return
}

// TelemetryInterval is zero when the sampler is disabled.
func (f *File) TelemetryInterval() (v time.Duration) {
	f.read(func(c *RawFileConfig) {
		v = time.Duration(ptr.Deref(c.TelemetryIntervalMs, *defaultFileConfig.TelemetryIntervalMs)) * time.Millisecond
	})
	return
}

// MQTTBroker is empty when MQTT publishing is disabled.
func (f *File) MQTTBroker() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.MQTTBroker, *defaultFileConfig.MQTTBroker) })
	return
}

func (f *File) MQTTTopic() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.MQTTTopic, *defaultFileConfig.MQTTTopic) })
	return
}

func (f *File) MQTTClientID() (v string) {
	f.read(func(c *RawFileConfig) { v = ptr.Deref(c.MQTTClientID, *defaultFileConfig.MQTTClientID) })
	return
}

func (f *File) Schedules() (v []Schedule) {
	f.read(func(c *RawFileConfig) {
		v = make([]Schedule, len(c.Schedules))
		copy(v, c.Schedules)
	})
	return
}

func (f *File) SetListenAddress(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ListenAddress = &s
}

func (f *File) SetSimulate(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Simulate = &b
}

func (f *File) SetTelemetryInterval(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d < 0 {
		panic("telemetry interval must not be negative")
	}

	ms := int(d / time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.TelemetryIntervalMs = &ms
}

func (f *File) SetSchedules(s []Schedule) {
	if f.c == nil {
		panic("config is nil")
	}

	cp := make([]Schedule, len(s))
	copy(cp, s)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Schedules = cp
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	configString := string(b)

	if strings.TrimSpace(configString) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (c *RawFileConfig) validate() error {
	for name, v := range map[string]*int{
		"servoSettleMs":       c.ServoSettleMs,
		"ledThrottleMs":       c.LedThrottleMs,
		"telemetryIntervalMs": c.TelemetryIntervalMs,
	} {
		if v != nil && *v < 0 {
			return pkgerrors.Errorf("%s must not be negative, got %d", name, *v)
		}
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Cron) == "" {
			return pkgerrors.Errorf("schedule %d: cron expression is empty", i)
		}
		if !strings.Contains(s.Routine, "/") {
			return pkgerrors.Errorf("schedule %d: routine %q is not of the form kind/name", i, s.Routine)
		}
	}
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"listenAddress":     f.ListenAddress(),
		"servoPin":          f.ServoPin(),
		"ledPin":            f.LedPin(),
		"i2cBus":            f.I2CBus(),
		"imuAddress":        f.IMUAddress(),
		"simulate":          f.Simulate(),
		"servoSettle":       f.ServoSettle(),
		"ledThrottle":       f.LedThrottle(),
		"telemetryInterval": f.TelemetryInterval(),
		"mqttBroker":        f.MQTTBroker(),
		"mqttTopic":         f.MQTTTopic(),
		"schedules":         len(f.Schedules()),
	}
}
