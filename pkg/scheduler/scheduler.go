// Package scheduler is the leased, single-owner job runner. Jobs live in the
// scheduler_jobs table; a ~1s poller claims due jobs by compare-and-set on
// (lease_owner, lease_until), runs the handler, then computes the next run
// from database time and releases the lease. Leases auto-expire, so a
// crashed owner's jobs are reclaimed on a later poll.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/database"
)

// ScheduleKind discriminates the schedule variants.
type ScheduleKind string

// Schedule kinds.
const (
	KindOnce     ScheduleKind = "once"
	KindInterval ScheduleKind = "interval"
	KindDaily    ScheduleKind = "daily"
)

// Schedule describes when a job runs.
type Schedule struct {
	Kind     ScheduleKind
	RunAt    time.Time     // once
	Interval time.Duration // interval
	Daily    string        // daily, "HH:MM" UTC
}

// Once schedules a single run.
func Once(runAt time.Time) Schedule { return Schedule{Kind: KindOnce, RunAt: runAt} }

// Every schedules repeated runs at a fixed interval.
func Every(d time.Duration) Schedule { return Schedule{Kind: KindInterval, Interval: d} }

// Daily schedules one run per day at HH:MM UTC.
func Daily(hhmm string) Schedule { return Schedule{Kind: KindDaily, Daily: hhmm} }

// Handler runs one claimed job execution.
type Handler func(ctx context.Context) error

// Job is a named schedule plus its handler.
type Job struct {
	Name     string
	Schedule Schedule
	LeaseTTL time.Duration
	Handler  Handler

	// NextInterval, when set on an interval job, supplies the spacing to the
	// following run before each lease release. A non-positive return keeps
	// the schedule's fixed interval.
	NextInterval func(ctx context.Context) time.Duration
}

// Scheduler polls and executes registered jobs.
type Scheduler struct {
	client *database.Client
	db     *sql.DB
	owner  string
	poll   time.Duration
	lease  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. poll and defaultLease fall back to 1s and 60s.
func New(client *database.Client, poll, defaultLease time.Duration) *Scheduler {
	if client == nil {
		panic("scheduler.New: database client must not be nil")
	}
	if poll <= 0 {
		poll = time.Second
	}
	if defaultLease <= 0 {
		defaultLease = time.Minute
	}
	return &Scheduler{
		client: client,
		db:     client.DB(),
		owner:  uuid.New().String(),
		poll:   poll,
		lease:  defaultLease,
		logger: slog.Default().With("component", "scheduler"),
		jobs:   make(map[string]*Job),
		stop:   make(chan struct{}),
	}
}

// Owner returns this process's lease owner id.
func (s *Scheduler) Owner() string { return s.owner }

// Register adds a job and seeds its row. An existing row keeps its
// next_run_at so restarts do not reset schedules.
func (s *Scheduler) Register(ctx context.Context, job *Job) error {
	if job.Name == "" || job.Handler == nil {
		return fmt.Errorf("job requires a name and a handler")
	}
	if job.LeaseTTL <= 0 {
		job.LeaseTTL = s.lease
	}

	now, err := s.client.Now(ctx)
	if err != nil {
		now = time.Now().UTC()
	}
	first, err := nextRun(job.Schedule, now)
	if err != nil {
		return fmt.Errorf("job %s has an invalid schedule: %w", job.Name, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_jobs (name, next_run_at) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		job.Name, first); err != nil {
		return fmt.Errorf("failed to seed job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	s.jobs[job.Name] = job
	s.mu.Unlock()
	return nil
}

// Unregister removes a job from this owner and deletes its row. In-flight
// executions finish normally.
func (s *Scheduler) Unregister(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}
	return nil
}

// Start launches the poller. It returns immediately; Stop halts polling and
// waits for in-flight handlers.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the poller; in-flight handlers finish and their leases expire
// naturally.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if s.claim(ctx, name) {
			s.runJob(ctx, name)
		}
	}
}

// claim is the compare-and-set lease acquisition: a due job with a free or
// expired lease becomes ours.
func (s *Scheduler) claim(ctx context.Context, name string) bool {
	s.mu.Lock()
	job := s.jobs[name]
	s.mu.Unlock()
	if job == nil {
		return false
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduler_jobs
		 SET lease_owner = $1, lease_until = now() + $2 * interval '1 millisecond'
		 WHERE name = $3
		   AND next_run_at <= now()
		   AND (lease_owner IS NULL OR lease_until IS NULL OR lease_until < now())`,
		s.owner, job.LeaseTTL.Milliseconds(), name)
	if err != nil {
		s.logger.Warn("Lease claim failed", "job", name, "error", err)
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n == 1
}

func (s *Scheduler) runJob(ctx context.Context, name string) {
	s.mu.Lock()
	job := s.jobs[name]
	s.mu.Unlock()
	if job == nil {
		return
	}

	start := time.Now()
	err := job.Handler(ctx)
	if err != nil {
		s.logger.Error("Job handler failed", "job", name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Debug("Job completed", "job", name, "duration", time.Since(start))
	}

	// Next run is computed from DB time so clock skew between owners cannot
	// starve or double-run a job.
	now, nerr := s.client.Now(ctx)
	if nerr != nil {
		now = time.Now().UTC()
	}

	if job.Schedule.Kind == KindOnce {
		if _, derr := s.db.ExecContext(ctx,
			`DELETE FROM scheduler_jobs WHERE name = $1 AND lease_owner = $2`, name, s.owner); derr != nil {
			s.logger.Warn("Failed to retire one-shot job", "job", name, "error", derr)
		}
		s.mu.Lock()
		delete(s.jobs, name)
		s.mu.Unlock()
		return
	}

	next, serr := nextRun(scheduleForNext(ctx, job), now)
	if serr != nil {
		next = now.Add(time.Hour)
	}
	if _, uerr := s.db.ExecContext(ctx,
		`UPDATE scheduler_jobs
		 SET next_run_at = $1, lease_owner = NULL, lease_until = NULL
		 WHERE name = $2 AND lease_owner = $3`,
		next, name, s.owner); uerr != nil {
		s.logger.Warn("Failed to release lease", "job", name, "error", uerr)
	}
}

// scheduleForNext returns the schedule used to compute a job's next run,
// applying the dynamic interval override when the job carries one.
func scheduleForNext(ctx context.Context, job *Job) Schedule {
	sched := job.Schedule
	if job.NextInterval != nil && sched.Kind == KindInterval {
		if d := job.NextInterval(ctx); d > 0 {
			sched.Interval = d
		}
	}
	return sched
}

// nextRun computes the next execution time strictly after now.
func nextRun(sched Schedule, now time.Time) (time.Time, error) {
	switch sched.Kind {
	case KindOnce:
		return sched.RunAt, nil
	case KindInterval:
		if sched.Interval <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive")
		}
		return now.Add(sched.Interval), nil
	case KindDaily:
		hour, minute, err := parseDailyTime(sched.Daily)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
}

func parseDailyTime(hhmm string) (hour, minute int, err error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("daily time %q is not HH:MM", hhmm)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("daily time %q has an invalid hour", hhmm)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("daily time %q has an invalid minute", hhmm)
	}
	return hour, minute, nil
}
