// Package telemetry periodically samples the orientation estimate and fans it
// out to sinks such as the event hub and an MQTT broker.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/orientation"
)

// Reader produces orientation estimates. *imu.Sensor satisfies it.
type Reader interface {
	UpdateAngles(ctx context.Context) (orientation.Estimate, error)
}

// Point is one published sample.
type Point struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
	Ts    int64   `json:"ts"`
}

func NewPoint(est orientation.Estimate, at time.Time) Point {
	return Point{Pitch: est.Pitch, Roll: est.Roll, Yaw: est.Yaw, Ts: at.UnixMilli()}
}

// Sink receives every successful sample.
type Sink interface {
	Publish(p Point) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(p Point) error

func (f SinkFunc) Publish(p Point) error { return f(p) }

// Sampler calls UpdateAngles on a fixed interval.
type Sampler struct {
	reader   Reader
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	sinks []Sink
	// lastErr suppresses repeated identical failures in the log.
	lastErr string
}

func NewSampler(r Reader, interval time.Duration, sinks ...Sink) *Sampler {
	return &Sampler{
		reader:   r,
		interval: interval,
		now:      time.Now,
		sinks:    sinks,
	}
}

// AddSink registers another sink. Safe to call while Run is active.
func (s *Sampler) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		logrus.Debug("telemetry sampler disabled")
		return
	}

	logrus.WithField("interval", s.interval).Info("telemetry sampler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("telemetry sampler stopped")
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce takes one sample and publishes it to every sink.
func (s *Sampler) SampleOnce(ctx context.Context) {
	est, err := s.reader.UpdateAngles(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.mu.Lock()
		repeated := s.lastErr == err.Error()
		s.lastErr = err.Error()
		s.mu.Unlock()
		if !repeated {
			logrus.WithError(err).Warn("telemetry sample failed")
		}
		return
	}

	s.mu.Lock()
	if s.lastErr != "" {
		logrus.Info("telemetry sampling recovered")
	}
	s.lastErr = ""
	sinks := make([]Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	p := NewPoint(est, s.now())
	for _, sink := range sinks {
		if err := sink.Publish(p); err != nil {
			logrus.WithError(err).Warn("failed to publish telemetry")
		}
	}
}
