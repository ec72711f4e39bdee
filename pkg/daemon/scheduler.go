package daemon

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLead      = time.Second * 30 // how long before a run OnUpcoming fires
	preCheckMaxTimes = 30
	preCheckInterval = time.Second * 10
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs one task on one cron schedule. Before each run it calls
// OnUpcoming Lead ahead of time, then PreCheck, retrying a failing PreCheck
// every preCheckInterval up to preCheckMaxTimes before giving up on that run.
type Scheduler struct {
	Name       string
	Lead       time.Duration
	OnUpcoming NotifyFunc // called before running the task
	OnError    NotifyFunc // called on task or precheck error
	Task       TaskFunc
	PreCheck   TaskFunc // optional readiness check

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule changed
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(name string, task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Name:       name,
		Lead:       defaultLead,
		OnUpcoming: onUpcoming,
		OnError:    onError,
		Task:       task,
		PreCheck:   preCheck,
		controlCh:  make(chan controlMsg, 4),
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid cron expression %q", cronExpr)
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Postpone delays the next run by d. The postponed run must still come
// before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return pkgerrors.New("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return pkgerrors.New("no active schedule to postpone")
	}
	orig := s.nextRun
	following := s.schedule.Next(orig).Truncate(time.Second)
	s.mu.Unlock()

	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(following) >= 0 {
		return pkgerrors.New("postpone duration too long")
	}

	s.mu.Lock()
	s.nextRun = pp
	s.mu.Unlock()
	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return pkgerrors.New("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

// cycle is one pending run.
type cycle struct {
	at        time.Time
	announced bool // OnUpcoming already sent
	attempts  int  // failed prechecks
	lastErr   error
}

// idleWait is how long the loop sleeps while there is nothing scheduled.
const idleWait = time.Hour * 10000

func (s *Scheduler) runScheduled() {
	log := logrus.WithField("schedule", s.Name)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		log.Debug("scheduler stopped")
	}()

	log.Debug("scheduler started")

	for s.waitCycle(log) {
	}
}

// waitCycle blocks until the pending run is done, replaced or skipped. It
// reports false once the scheduler is stopped.
func (s *Scheduler) waitCycle(log *logrus.Entry) bool {
	var c *cycle
	wait := idleWait
	if schedule, nextRun := s.snapshot(); schedule != nil && !nextRun.IsZero() {
		c = &cycle{at: nextRun}
		wait = max(time.Until(nextRun)-s.Lead, 0)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return false
		case msg := <-s.controlCh:
			log.WithFields(logrus.Fields{
				"kind": msg.kind,
				"data": msg.data,
			}).Debug("received control msg")

			switch msg.kind {
			case ctrlRecalculate:
				sh := msg.data.(cron.Schedule)
				s.mu.Lock()
				s.schedule = sh
				s.nextRun = sh.Next(time.Now())
				s.mu.Unlock()
			case ctrlPostpone:
				if c != nil {
					c.at = msg.data.(time.Time)
					c.announced = true
					timer.Reset(max(time.Until(c.at), 0))
					continue
				}
			}
			return true
		case <-timer.C:
			if c == nil {
				return true
			}
			next, done := s.fire(log, c)
			if done {
				return true
			}
			timer.Reset(next)
		}
	}
}

// fire handles a timer expiry for c. It returns the delay until c needs
// attention again, or done once c has run or been given up.
func (s *Scheduler) fire(log *logrus.Entry, c *cycle) (next time.Duration, done bool) {
	if !c.announced {
		log.Debugf("upcoming run at %s", c.at.Format(time.DateTime))
		c.announced = true
		s.sendNotify(c.at)
		return max(time.Until(c.at), 0), false
	}

	log.Debugf("running at %s", c.at.Format(time.DateTime))

	if s.PreCheck != nil {
		if err := s.PreCheck(); err != nil {
			// Report each distinct failure once.
			if c.lastErr == nil || err.Error() != c.lastErr.Error() {
				c.lastErr = err
				s.sendError(pkgerrors.Wrap(err, "precheck failed"))
			}

			c.attempts++
			if c.attempts <= preCheckMaxTimes {
				log.Debugf("precheck failed (%d/%d): %v; retrying in %s", c.attempts, preCheckMaxTimes, err, preCheckInterval)
				return preCheckInterval, false
			}

			log.Warnf("precheck failed %d times, skipping this run", c.attempts)
			s.advanceNextRun()
			return 0, true
		}
	}

	go func() {
		if err := s.Task(); err != nil {
			s.sendError(pkgerrors.Wrap(err, "task failed"))
		}
	}()
	s.advanceNextRun()
	return 0, true
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}
	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}
	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
