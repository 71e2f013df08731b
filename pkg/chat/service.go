// Package chat is the adapter-facing entry point: it routes scheduling
// commands to the task service and everything else into orchestrator runs.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/perpd/pkg/agent"
	"github.com/quantfold/perpd/pkg/scheduler"
)

// Inbound is one message pushed by an adapter.
type Inbound struct {
	Channel  string
	SenderID string
	Text     string
	PeerKind string
	ThreadID string
}

// Adapter is a chat transport: it pushes Inbound messages into the service
// and delivers replies.
type Adapter interface {
	Name() string
	Send(ctx context.Context, channel, recipientID, text string) error
}

const scheduleHelp = `Scheduling commands (all times UTC):
/schedule <spec> | <instruction>
  spec: tomorrow H[:MM]am|pm, today H[:MM]am|pm, daily HH:MM, every N[m|h], in N[s|m|h]
/scheduled_tasks — list tasks
/unschedule_task <id-prefix> — deactivate a task
/schedule help — this message`

// Service handles chat traffic for all adapters.
type Service struct {
	orchestrator *agent.Orchestrator
	tasks        *scheduler.TaskService
	logger       *slog.Logger

	mu      sync.Mutex
	history map[string][]string // sessionKey -> recent exchange summaries
}

// NewService creates the chat service. tasks may be nil (scheduling commands
// are then refused).
func NewService(o *agent.Orchestrator, tasks *scheduler.TaskService) *Service {
	if o == nil {
		panic("chat.NewService: orchestrator must not be nil")
	}
	return &Service{
		orchestrator: o,
		tasks:        tasks,
		logger:       slog.Default().With("component", "chat"),
		history:      make(map[string][]string),
	}
}

// HandleMessage processes one message and returns the reply. onProgress may
// be nil; when set it receives streamed progress lines.
func (s *Service) HandleMessage(ctx context.Context, sessionKey, text string, onProgress func(string)) string {
	trimmed := strings.TrimSpace(text)
	now := time.Now().UTC()

	if reply, handled := s.handleScheduling(ctx, sessionKey, trimmed, now); handled {
		return reply
	}

	result := s.orchestrator.Run(ctx, trimmed, agent.RunOptions{
		SessionID:     sessionKey,
		SessionMemory: s.sessionMemory(sessionKey),
		OnProgress:    onProgress,
	})
	s.remember(sessionKey, trimmed, result.Summary)
	if result.Response == "" {
		return "I could not produce a response for that."
	}
	return result.Response
}

// handleScheduling consumes scheduling commands and natural-language
// scheduling requests. Returns handled=false for ordinary goals.
func (s *Service) handleScheduling(ctx context.Context, sessionKey, text string, now time.Time) (string, bool) {
	lower := strings.ToLower(text)
	channel, recipient := splitSessionKey(sessionKey)

	switch {
	case lower == "/schedule help" || lower == "/schedule":
		return scheduleHelp, true

	case strings.HasPrefix(lower, "/schedule "):
		if s.tasks == nil {
			return "Scheduling is not available: no task store is configured.", true
		}
		spec, instruction, err := scheduler.ParseScheduleCommand(text, now)
		if err != nil {
			return fmt.Sprintf("Could not parse that schedule: %v\n\n%s", err, scheduleHelp), true
		}
		task, err := s.tasks.Create(ctx, spec, channel, recipient, instruction)
		if err != nil {
			return fmt.Sprintf("Failed to schedule: %v", err), true
		}
		return fmt.Sprintf("Scheduled task %s (%s): %s", shortID(task.ID), describeSpec(spec), instruction), true

	case lower == "/scheduled_tasks":
		if s.tasks == nil {
			return "Scheduling is not available: no task store is configured.", true
		}
		tasks, err := s.tasks.List(ctx)
		if err != nil {
			return fmt.Sprintf("Failed to list tasks: %v", err), true
		}
		if len(tasks) == 0 {
			return "No scheduled tasks.", true
		}
		var sb strings.Builder
		sb.WriteString("Scheduled tasks:")
		for _, t := range tasks {
			status := "active"
			if !t.Active {
				status = "inactive"
			}
			sb.WriteString(fmt.Sprintf("\n%s [%s] %s — %s",
				shortID(t.ID), status, describeTask(t), t.Instruction))
		}
		return sb.String(), true

	case strings.HasPrefix(lower, "/unschedule_task"):
		if s.tasks == nil {
			return "Scheduling is not available: no task store is configured.", true
		}
		prefix := strings.TrimSpace(strings.TrimPrefix(text, "/unschedule_task"))
		task, err := s.tasks.Deactivate(ctx, prefix)
		if err != nil {
			return fmt.Sprintf("Failed to unschedule: %v", err), true
		}
		return fmt.Sprintf("Unscheduled task %s: %s", shortID(task.ID), task.Instruction), true
	}

	if s.tasks != nil {
		if spec, instruction, ok := scheduler.ParseNatural(text, now); ok {
			task, err := s.tasks.Create(ctx, spec, channel, recipient, instruction)
			if err != nil {
				return fmt.Sprintf("Failed to schedule: %v", err), true
			}
			return fmt.Sprintf("Scheduled task %s (%s): %s", shortID(task.ID), describeSpec(spec), instruction), true
		}
	}
	return "", false
}

func (s *Service) sessionMemory(sessionKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.history[sessionKey], "\n")
}

// remember keeps a short rolling window of exchange summaries per session.
func (s *Service) remember(sessionKey, goal, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[sessionKey], fmt.Sprintf("%s -> %s", goal, summary))
	if len(h) > 10 {
		h = h[len(h)-10:]
	}
	s.history[sessionKey] = h
}

// splitSessionKey splits "channel:recipient"; a bare key is its own
// recipient on the default channel.
func splitSessionKey(key string) (channel, recipient string) {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i], key[i+1:]
	}
	return "default", key
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func describeSpec(spec *scheduler.TaskSpec) string {
	switch spec.Kind {
	case scheduler.KindDaily:
		return "daily at " + spec.DailyTime + " UTC"
	case scheduler.KindInterval:
		return fmt.Sprintf("every %d minute(s)", spec.IntervalMinutes)
	default:
		return "once at " + spec.RunAt.Format(time.RFC3339)
	}
}

func describeTask(t *scheduler.Task) string {
	spec := &scheduler.TaskSpec{Kind: t.Kind, RunAt: t.RunAt, DailyTime: t.DailyTime, IntervalMinutes: t.IntervalMinutes}
	return describeSpec(spec)
}
