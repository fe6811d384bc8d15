package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pepperbot/pkg/logx"
)

// Option tunes a single schedule.
type Option func(*scheduleDef)

// RunAtStart also runs the job once as soon as the service starts.
func RunAtStart() Option { return func(d *scheduleDef) { d.runAtStart = true } }

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "5s", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job, opts ...Option) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		return s.add(name, ps.Cron, timeout, job, opts)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job, opts...)
	default:
		return fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job, opts ...Option) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, job, opts)
}

func (s *Service) add(name, spec string, timeout time.Duration, job Job, opts []Option) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	for _, o := range opts {
		o(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so repeated registration never duplicates triggers.
	s.removeLocked(name)
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return err
		}
		if d.runAtStart {
			s.launch(d)
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove unregisters a schedule. Running jobs finish normally.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Snapshot reports every registered schedule.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: time.Local.String()}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:     d.name,
			Spec:     d.spec,
			Timeout:  d.timeout,
			Running:  d.running.Load(),
			Runs:     d.runs.Load(),
			Skipped:  d.skipped.Load(),
			Failures: d.failures.Load(),
		}
		d.mu.Lock()
		info.LastRun, info.LastDur, info.LastErr = d.lastRun, d.lastDur, d.lastErr
		d.mu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	return snap
}
