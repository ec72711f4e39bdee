package config

import "time"

// Schedule runs a routine on a cron expression. Routine is "kind/name", for
// example "servo/wave" or "combo/party".
type Schedule struct {
	Cron    string `json:"cron"`
	Routine string `json:"routine"`
}

type Config interface {
	ListenAddress() string
	ServoPin() string
	LedPin() string
	I2CBus() string
	IMUAddress() uint16
	Simulate() bool
	ServoSettle() time.Duration
	LedThrottle() time.Duration
	TelemetryInterval() time.Duration
	MQTTBroker() string
	MQTTTopic() string
	MQTTClientID() string
	Schedules() []Schedule

	SetListenAddress(string)
	SetSimulate(bool)
	SetTelemetryInterval(time.Duration)
	SetSchedules([]Schedule)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
