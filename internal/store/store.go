// File: internal/store/store.go
// Description: Optional PostgreSQL persistence for finished test runs. The
// store writes the run header, the full step record and evidence metadata in
// one transaction; evidence payloads stay out of the database.

// Package store persists finished runs to PostgreSQL. It is optional: runs
// work end to end without it and the CLI only wires it when a DSN is set.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/evidence"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL implementation of run persistence.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistResult writes a finished run and its evidence metadata in a single
// transaction.
func (s *Store) PersistResult(ctx context.Context, result *schemas.TestResult, items []evidence.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit reports pgx.ErrTxClosed; that is the normal path.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistRun(ctx, tx, result); err != nil {
		return err
	}
	if len(result.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, result.RunID, result.Steps); err != nil {
			return err
		}
	}
	if len(items) > 0 {
		if err := s.persistEvidence(ctx, tx, result.RunID, items); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted",
		zap.String("run_id", result.RunID),
		zap.Int("steps", len(result.Steps)),
		zap.Int("evidence_items", len(items)))
	return nil
}

func (s *Store) persistRun(ctx context.Context, tx pgx.Tx, result *schemas.TestResult) error {
	evalJSON, err := json.Marshal(result.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	metaJSON, err := json.Marshal(result.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal run meta: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, target_url, status, game_type, started_at, finished_at, evaluation, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.RunID, result.TargetURL, string(result.Status), string(result.Meta.GameType),
		result.StartedAt.UTC(), result.FinishedAt.UTC(), evalJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, runID string, steps []schemas.Step) error {
	rows := make([][]interface{}, len(steps))
	for i, st := range steps {
		outcomes, err := json.Marshal(st.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to marshal outcomes for step %d: %w", st.Index, err)
		}
		refs := make([]string, len(st.EvidenceRefs))
		for j, r := range st.EvidenceRefs {
			refs[j] = string(r)
		}
		rows[i] = []interface{}{
			runID, st.Index, string(st.Strategy), st.PatternName,
			st.Confidence, st.Success, st.Reasoning,
			outcomes, refs, st.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_steps"},
		[]string{"run_id", "step_index", "strategy", "pattern_name", "confidence", "success", "reasoning", "outcomes", "evidence_refs", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

func (s *Store) persistEvidence(ctx context.Context, tx pgx.Tx, runID string, items []evidence.Item) error {
	rows := make([][]interface{}, len(items))
	for i, it := range items {
		rows[i] = []interface{}{
			string(it.Ref), runID, it.StepIndex, string(it.Kind),
			len(it.Payload), it.RecordedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_evidence"},
		[]string{"ref", "run_id", "step_index", "kind", "payload_bytes", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy evidence metadata: %w", err)
	}
	if int(copyCount) != len(items) {
		return fmt.Errorf("mismatch in copied evidence count: expected %d, got %d", len(items), copyCount)
	}
	return nil
}

// GetResultsByTarget loads the run headers recorded for a target URL, newest
// first.
func (s *Store) GetResultsByTarget(ctx context.Context, targetURL string) ([]schemas.TestResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, target_url, status, started_at, finished_at, evaluation, meta
		 FROM runs WHERE target_url = $1 ORDER BY started_at DESC`,
		targetURL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var results []schemas.TestResult
	for rows.Next() {
		var r schemas.TestResult
		var status string
		var evalJSON, metaJSON []byte
		if err := rows.Scan(&r.RunID, &r.TargetURL, &status, &r.StartedAt, &r.FinishedAt, &evalJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Status = schemas.RunStatus(status)
		if len(evalJSON) > 0 {
			if err := json.Unmarshal(evalJSON, &r.Evaluation); err != nil {
				return nil, fmt.Errorf("failed to decode evaluation for run %s: %w", r.RunID, err)
			}
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode meta for run %s: %w", r.RunID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating runs: %w", err)
	}
	return results, nil
}
