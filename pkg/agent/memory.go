package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfold/perpd/pkg/journal"
)

// Memory-context caps: how many records of each kind are surfaced and how
// hard each is truncated.
const (
	memoryIncidentLimit = 6
	memoryIncidentChars = 180
	memoryPlaybookLimit = 4
	memoryPlaybookChars = 900
)

// MemoryAssembler builds the memory context prepended to planning and
// synthesis prompts: session memory, knowledge-base snippets, recent
// incidents, and matching playbooks, in that order. Empty sections are
// omitted; assembly failures degrade to whatever sections succeeded.
type MemoryAssembler struct {
	journal   *journal.Service
	knowledge func(ctx context.Context, query string) (any, error)
	logger    *slog.Logger
}

// NewMemoryAssembler creates a memory assembler. Both collaborators may be
// nil; their sections are then skipped.
func NewMemoryAssembler(j *journal.Service, knowledge func(ctx context.Context, query string) (any, error)) *MemoryAssembler {
	return &MemoryAssembler{
		journal:   j,
		knowledge: knowledge,
		logger:    slog.Default().With("component", "memory"),
	}
}

// Assemble builds the memory context for a run.
func (m *MemoryAssembler) Assemble(ctx context.Context, goal, sessionMemory string) string {
	var sections []string

	if sessionMemory != "" {
		sections = append(sections, "Session memory:\n"+sessionMemory)
	}

	if m.knowledge != nil {
		if data, err := m.knowledge(ctx, goal); err == nil && data != nil {
			if s := fmt.Sprintf("%v", data); strings.TrimSpace(s) != "" {
				sections = append(sections, "Knowledge base:\n"+s)
			}
		} else if err != nil {
			m.logger.Debug("Knowledge lookup failed during memory assembly", "error", err)
		}
	}

	if m.journal != nil {
		if incidents, err := m.journal.RecentIncidents(ctx, memoryIncidentLimit); err == nil && len(incidents) > 0 {
			var lines []string
			for _, inc := range incidents {
				lines = append(lines, truncate(fmt.Sprintf("[%s/%s] %s", inc.ToolName, inc.BlockerKind, inc.Error), memoryIncidentChars))
			}
			sections = append(sections, "Recent incidents:\n"+strings.Join(lines, "\n"))
		}

		if playbooks, err := m.journal.Playbooks(ctx, memoryPlaybookLimit); err == nil && len(playbooks) > 0 {
			var lines []string
			for _, pb := range playbooks {
				lines = append(lines, truncate(fmt.Sprintf("%s: %s", pb.Title, pb.Content), memoryPlaybookChars))
			}
			sections = append(sections, "Playbooks:\n"+strings.Join(lines, "\n"))
		}
	}

	return strings.Join(sections, "\n\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
