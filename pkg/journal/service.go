// Package journal persists the append-only decision artifacts: journal
// entries, incidents, decision audits, playbooks, and operator alerts.
// Nothing here updates in place; amendments are new rows.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/database"
	"github.com/quantfold/perpd/pkg/models"
)

// Artifact kinds in decision_artifacts.
const (
	KindJournal  = "journal"
	KindIncident = "incident"
	KindAudit    = "audit"
)

// Service provides append-only access to decision artifacts.
type Service struct {
	db *sql.DB
}

// NewService creates a journal service.
func NewService(client *database.Client) *Service {
	if client == nil {
		panic("journal.NewService: client must not be nil")
	}
	return &Service{db: client.DB()}
}

// Append writes one journal entry. The entry ID is assigned here; entries
// are immutable once written.
func (s *Service) Append(ctx context.Context, entry *models.JournalEntry) (*models.JournalEntry, error) {
	if entry.Symbol == "" {
		return nil, fmt.Errorf("journal entry requires a symbol")
	}
	if entry.Outcome == "" {
		return nil, fmt.Errorf("journal entry requires an outcome")
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	return entry, s.insert(ctx, KindJournal, entry.CreatedAt, entry)
}

// Recent returns the latest journal entries, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.JournalEntry, error) {
	rows, err := s.queryKind(ctx, KindJournal, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.JournalEntry](rows)
}

// Since returns journal entries created at or after the cutoff, newest first.
func (s *Service) Since(ctx context.Context, cutoff time.Time) ([]*models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM decision_artifacts
		 WHERE kind = $1 AND created_at >= $2
		 ORDER BY created_at DESC, id DESC`,
		KindJournal, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return decodeAll[models.JournalEntry](rows)
}

// RecordIncident appends an incident for a (tool, blocker) pair and seeds a
// playbook on the blocker's first occurrence.
func (s *Service) RecordIncident(ctx context.Context, toolName, blockerKind, errMsg string) (*models.IncidentRecord, error) {
	rec := &models.IncidentRecord{
		ID:          uuid.New().String(),
		ToolName:    toolName,
		BlockerKind: blockerKind,
		Error:       errMsg,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insert(ctx, KindIncident, rec.CreatedAt, rec); err != nil {
		return nil, err
	}
	if seed, ok := playbookSeeds[blockerKind]; ok {
		if err := s.seedPlaybook(ctx, blockerKind, seed.title, seed.content); err != nil {
			return rec, fmt.Errorf("incident recorded but playbook seed failed: %w", err)
		}
	}
	return rec, nil
}

// RecentIncidents returns the latest incidents, newest first.
func (s *Service) RecentIncidents(ctx context.Context, limit int) ([]*models.IncidentRecord, error) {
	rows, err := s.queryKind(ctx, KindIncident, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.IncidentRecord](rows)
}

// AppendAudit writes the one-per-run decision audit record.
func (s *Service) AppendAudit(ctx context.Context, audit *models.DecisionAudit) error {
	audit.CreatedAt = time.Now().UTC()
	return s.insert(ctx, KindAudit, audit.CreatedAt, audit)
}

// RecentAudits returns the latest decision audits, newest first.
func (s *Service) RecentAudits(ctx context.Context, limit int) ([]*models.DecisionAudit, error) {
	rows, err := s.queryKind(ctx, KindAudit, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.DecisionAudit](rows)
}

// Playbooks returns up to limit playbooks, most recently updated first.
func (s *Service) Playbooks(ctx context.Context, limit int) ([]*models.Playbook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, content, updated_at FROM playbooks
		 ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Playbook
	for rows.Next() {
		p := &models.Playbook{}
		if err := rows.Scan(&p.Key, &p.Title, &p.Content, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playbook: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPlaybook creates or replaces a playbook.
func (s *Service) UpsertPlaybook(ctx context.Context, p *models.Playbook) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playbooks (key, title, content, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = now()`,
		p.Key, p.Title, p.Content)
	if err != nil {
		return fmt.Errorf("failed to upsert playbook %q: %w", p.Key, err)
	}
	return nil
}

// AppendAlert writes an operator alert; duplicate dedupe keys are dropped
// silently.
func (s *Service) AppendAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, dedupe_key, source, reason, severity)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		a.ID, a.DedupeKey, a.Source, a.Reason, a.Severity)
	if err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// seedPlaybook inserts a playbook only when the key is new: seeds never
// overwrite operator-edited content.
func (s *Service) seedPlaybook(ctx context.Context, key, title, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playbooks (key, title, content, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO NOTHING`,
		key, title, content)
	return err
}

func (s *Service) insert(ctx context.Context, kind string, at time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_artifacts (kind, created_at, payload_json) VALUES ($1, $2, $3)`,
		kind, at, data)
	if err != nil {
		return fmt.Errorf("failed to insert %s artifact: %w", kind, err)
	}
	return nil
}

func (s *Service) queryKind(ctx context.Context, kind string, limit int) (*sql.Rows, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM decision_artifacts
		 WHERE kind = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s artifacts: %w", kind, err)
	}
	return rows, nil
}

func decodeAll[T any](rows *sql.Rows) ([]*T, error) {
	defer func() { _ = rows.Close() }()
	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("failed to decode artifact: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
