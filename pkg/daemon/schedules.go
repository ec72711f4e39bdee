package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/config"
	"github.com/Pcarioca/Raspberry-Control/pkg/events"
	"github.com/Pcarioca/Raspberry-Control/pkg/routine"
)

// scheduleTimeout bounds one scheduled routine, including lock waits.
const scheduleTimeout = 10 * time.Minute

var ErrNoSuchSchedule = pkgerrors.New("no such schedule")

// ScheduleStatus is the API view of one configured schedule.
type ScheduleStatus struct {
	Index   int       `json:"index"`
	Cron    string    `json:"cron"`
	Routine string    `json:"routine"`
	NextRun time.Time `json:"nextRun"`
	Running bool      `json:"running"`
}

type scheduleEntry struct {
	conf config.Schedule
	s    *Scheduler
}

// scheduleSet owns the schedulers built from the config.
type scheduleSet struct {
	mu      sync.Mutex
	entries []scheduleEntry
}

func splitRoutine(r string) (kind, name string, err error) {
	kind, name, ok := strings.Cut(r, "/")
	if !ok || kind == "" || name == "" {
		return "", "", pkgerrors.Errorf("routine %q is not of the form kind/name", r)
	}
	return kind, name, nil
}

func newScheduler(i int, sc config.Schedule) (*Scheduler, error) {
	kind, name, err := splitRoutine(sc.Routine)
	if err != nil {
		return nil, err
	}

	task := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), scheduleTimeout)
		defer cancel()
		return executor.Run(ctx, kind, name)
	}

	var preCheck TaskFunc
	if kind == routine.KindGyro {
		preCheck = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), preCheckInterval)
			defer cancel()
			_, err := sensor.ReadRaw(ctx)
			return err
		}
	}

	onUpcoming := func(data any) {
		runAt, _ := data.(time.Time)
		sseHub.Publish(events.ScheduleUpcoming, events.ScheduleUpcomingEvent{
			Index:   i,
			Routine: sc.Routine,
			RunAt:   runAt.UnixMilli(),
		})
	}

	onError := func(data any) {
		err, _ := data.(error)
		logrus.WithError(err).WithField("routine", sc.Routine).Warn("scheduled routine failed")
		sseHub.Publish(events.ScheduleError, events.ScheduleErrorEvent{
			Index:   i,
			Routine: sc.Routine,
			Error:   err.Error(),
			Ts:      time.Now().UnixMilli(),
		})
	}

	s := NewScheduler(sc.Routine, task, preCheck, onUpcoming, onError)
	if err := s.Schedule(sc.Cron); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply stops any running schedulers and starts one per entry in list.
// Entries that fail to parse are logged and skipped.
func (ss *scheduleSet) Apply(list []config.Schedule) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for _, e := range ss.entries {
		e.s.Stop()
	}
	ss.entries = ss.entries[:0]

	for i, sc := range list {
		s, err := newScheduler(len(ss.entries), sc)
		if err != nil {
			logrus.WithError(err).WithField("index", i).Error("ignoring invalid schedule")
			continue
		}
		s.Start()
		ss.entries = append(ss.entries, scheduleEntry{conf: sc, s: s})
		next, _ := s.Status()
		logrus.WithFields(logrus.Fields{
			"routine": sc.Routine,
			"cron":    sc.Cron,
			"nextRun": next.Format(time.DateTime),
		}).Info("schedule started")
	}
}

func (ss *scheduleSet) Stop() {
	ss.Apply(nil)
}

func (ss *scheduleSet) Status() []ScheduleStatus {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ret := make([]ScheduleStatus, 0, len(ss.entries))
	for i, e := range ss.entries {
		next, running := e.s.Status()
		ret = append(ret, ScheduleStatus{
			Index:   i,
			Cron:    e.conf.Cron,
			Routine: e.conf.Routine,
			NextRun: next,
			Running: running,
		})
	}
	return ret
}

func (ss *scheduleSet) get(i int) (*Scheduler, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if i < 0 || i >= len(ss.entries) {
		return nil, pkgerrors.Wrapf(ErrNoSuchSchedule, "index %d", i)
	}
	return ss.entries[i].s, nil
}

func (ss *scheduleSet) Skip(i int) error {
	s, err := ss.get(i)
	if err != nil {
		return err
	}
	return s.Skip()
}

func (ss *scheduleSet) Postpone(i int, d time.Duration) error {
	s, err := ss.get(i)
	if err != nil {
		return err
	}
	return s.Postpone(d)
}
