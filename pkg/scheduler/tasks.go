package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/database"
)

// Task is one user-scheduled instruction.
type Task struct {
	ID              string
	JobName         string
	Channel         string
	RecipientID     string
	Kind            ScheduleKind
	RunAt           time.Time
	DailyTime       string
	IntervalMinutes int
	Instruction     string
	Active          bool
	CreatedAt       time.Time
}

// TaskRunner executes a due task's instruction.
type TaskRunner func(ctx context.Context, task *Task) error

// TaskService persists user-scheduled tasks and mirrors each active one as a
// leased scheduler job.
type TaskService struct {
	db     *sql.DB
	sched  *Scheduler
	run    TaskRunner
	logger *slog.Logger
}

// NewTaskService creates the task service.
func NewTaskService(client *database.Client, sched *Scheduler, run TaskRunner) *TaskService {
	if client == nil {
		panic("scheduler.NewTaskService: database client must not be nil")
	}
	if sched == nil {
		panic("scheduler.NewTaskService: scheduler must not be nil")
	}
	if run == nil {
		panic("scheduler.NewTaskService: task runner must not be nil")
	}
	return &TaskService{
		db:     client.DB(),
		sched:  sched,
		run:    run,
		logger: slog.Default().With("component", "scheduled-tasks"),
	}
}

// Create persists the task and registers its job.
func (ts *TaskService) Create(ctx context.Context, spec *TaskSpec, channel, recipientID, instruction string) (*Task, error) {
	task := &Task{
		ID:              uuid.New().String(),
		Channel:         channel,
		RecipientID:     recipientID,
		Kind:            spec.Kind,
		RunAt:           spec.RunAt,
		DailyTime:       spec.DailyTime,
		IntervalMinutes: spec.IntervalMinutes,
		Instruction:     instruction,
		Active:          true,
	}
	task.JobName = "task:" + task.ID

	var runAt any
	if !task.RunAt.IsZero() {
		runAt = task.RunAt
	}
	if _, err := ts.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks
		 (id, scheduler_job_name, channel, recipient_id, schedule_kind, run_at, daily_time, interval_minutes, instruction, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)`,
		task.ID, task.JobName, task.Channel, task.RecipientID, string(task.Kind),
		runAt, nullIfEmpty(task.DailyTime), task.IntervalMinutes, task.Instruction); err != nil {
		return nil, fmt.Errorf("failed to persist scheduled task: %w", err)
	}

	if err := ts.registerJob(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Restore re-registers jobs for all active tasks; call once at startup.
func (ts *TaskService) Restore(ctx context.Context) error {
	tasks, err := ts.List(ctx)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if !task.Active {
			continue
		}
		if task.Kind == KindOnce && !task.RunAt.After(time.Now().UTC()) {
			// Missed while down; run at next poll rather than dropping it.
			task.RunAt = time.Now().UTC().Add(5 * time.Second)
		}
		if err := ts.registerJob(ctx, task); err != nil {
			ts.logger.Warn("Failed to restore scheduled task", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

// List returns all tasks, newest first.
func (ts *TaskService) List(ctx context.Context) ([]*Task, error) {
	rows, err := ts.db.QueryContext(ctx,
		`SELECT id, scheduler_job_name, channel, recipient_id, schedule_kind,
		        run_at, daily_time, interval_minutes, instruction, active, created_at
		 FROM scheduled_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		var t Task
		var kind string
		var runAt sql.NullTime
		var daily sql.NullString
		var interval sql.NullInt64
		if err := rows.Scan(&t.ID, &t.JobName, &t.Channel, &t.RecipientID, &kind,
			&runAt, &daily, &interval, &t.Instruction, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
		}
		t.Kind = ScheduleKind(kind)
		if runAt.Valid {
			t.RunAt = runAt.Time
		}
		t.DailyTime = daily.String
		t.IntervalMinutes = int(interval.Int64)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// Deactivate disables the first active task whose id starts with prefix and
// removes its job. Returns the deactivated task.
func (ts *TaskService) Deactivate(ctx context.Context, prefix string) (*Task, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("task id prefix must not be empty")
	}
	tasks, err := ts.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if !task.Active || !strings.HasPrefix(task.ID, prefix) {
			continue
		}
		if _, err := ts.db.ExecContext(ctx,
			`UPDATE scheduled_tasks SET active = FALSE WHERE id = $1`, task.ID); err != nil {
			return nil, fmt.Errorf("failed to deactivate task: %w", err)
		}
		if err := ts.sched.Unregister(ctx, task.JobName); err != nil {
			ts.logger.Warn("Failed to unregister task job", "task_id", task.ID, "error", err)
		}
		task.Active = false
		return task, nil
	}
	return nil, fmt.Errorf("no active task matches prefix %q", prefix)
}

func (ts *TaskService) registerJob(ctx context.Context, task *Task) error {
	spec := &TaskSpec{Kind: task.Kind, RunAt: task.RunAt, DailyTime: task.DailyTime, IntervalMinutes: task.IntervalMinutes}
	return ts.sched.Register(ctx, &Job{
		Name:     task.JobName,
		Schedule: spec.Schedule(),
		Handler: func(ctx context.Context) error {
			err := ts.run(ctx, task)
			if task.Kind == KindOnce {
				if _, derr := ts.db.ExecContext(ctx,
					`UPDATE scheduled_tasks SET active = FALSE WHERE id = $1`, task.ID); derr != nil {
					ts.logger.Warn("Failed to retire one-shot task", "task_id", task.ID, "error", derr)
				}
			}
			return err
		},
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
