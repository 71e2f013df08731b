// Package policy owns the process-wide AutonomyPolicyState: a single DB row
// read each scan and mutated only through row-locked transactions.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantfold/perpd/pkg/database"
	"github.com/quantfold/perpd/pkg/models"
)

// Store is the policy state handle.
type Store struct {
	db *sql.DB
}

// NewStore creates a policy store.
func NewStore(client *database.Client) *Store {
	if client == nil {
		panic("policy.NewStore: client must not be nil")
	}
	return &Store{db: client.DB()}
}

// Get returns the current policy state; a missing row yields the zero state.
func (s *Store) Get(ctx context.Context) (*models.PolicyState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM autonomy_policy_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.PolicyState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy state: %w", err)
	}
	st := &models.PolicyState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("failed to decode policy state: %w", err)
	}
	return st, nil
}

// Update applies fn to the row-locked policy state and persists the result.
// fn returning an error aborts without writing.
func (s *Store) Update(ctx context.Context, fn func(st *models.PolicyState) error) (*models.PolicyState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin policy transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := &models.PolicyState{}
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT payload_json FROM autonomy_policy_state WHERE id = 1 FOR UPDATE`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First write seeds the row.
	case err != nil:
		return nil, fmt.Errorf("failed to lock policy state: %w", err)
	default:
		if err := json.Unmarshal(raw, st); err != nil {
			return nil, fmt.Errorf("failed to decode policy state: %w", err)
		}
	}

	if err := fn(st); err != nil {
		return nil, err
	}
	st.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO autonomy_policy_state (id, payload_json, updated_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET payload_json = EXCLUDED.payload_json, updated_at = now()`,
		data); err != nil {
		return nil, fmt.Errorf("failed to persist policy state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit policy state: %w", err)
	}
	return st, nil
}
