package scheduler

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

type job struct {
	entryID cron.EntryID
	fn      func()
}

// Scheduler runs named jobs on cron schedules in one timezone. Scheduling a
// name that already exists replaces its entry.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	mu       sync.Mutex
	jobs     map[string]*job
	started  bool
}

// NewScheduler creates a new scheduler for the given timezone.
func NewScheduler(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		location: loc,
		jobs:     make(map[string]*job),
	}, nil
}

// ScheduleDaily runs fn every day at timeStr (HH:MM).
func (s *Scheduler) ScheduleDaily(name, timeStr string, fn func()) error {
	hour, minute, err := parseTime(timeStr)
	if err != nil {
		return err
	}
	return s.schedule(name, buildCronSpec(hour, minute), fn)
}

// ScheduleSpec runs fn on a standard cron spec or descriptor such as "@daily".
func (s *Scheduler) ScheduleSpec(name, spec string, fn func()) error {
	return s.schedule(name, spec, fn)
}

// Reschedule moves an existing daily job to timeStr, keeping its function.
func (s *Scheduler) Reschedule(name, timeStr string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job named %q", name)
	}
	return s.ScheduleDaily(name, timeStr, j.fn)
}

// Next returns when the named job runs next. It is zero until Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(j.entryID).Next, true
}

func (s *Scheduler) schedule(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("add cron job %q: %w", name, err)
	}

	// Remove existing job if any
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	s.jobs[name] = &job{entryID: entryID, fn: fn}

	slog.Info("job scheduled", "job", name, "spec", spec, "timezone", s.location.String())
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

func parseTime(timeStr string) (int, int, error) {
	matches := timeRegex.FindStringSubmatch(timeStr)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time format: %q (expected HH:MM)", timeStr)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return hour, minute, nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
