// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/evidence"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const sqlInsertRun = `
	INSERT INTO runs (id, target_url, status, game_type, started_at, finished_at, evaluation, meta)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

var stepColumns = []string{"run_id", "step_index", "strategy", "pattern_name", "confidence", "success", "reasoning", "outcomes", "evidence_refs", "recorded_at"}
var evidenceColumns = []string{"ref", "run_id", "step_index", "kind", "payload_bytes", "recorded_at"}

func sampleResult() *schemas.TestResult {
	now := time.Now()
	return &schemas.TestResult{
		RunID:     uuid.NewString(),
		TargetURL: "https://good.example/game",
		Status:    schemas.RunSuccess,
		Steps: []schemas.Step{
			{Index: 0, Strategy: schemas.StrategyPlanner, Success: true, Timestamp: now},
			{Index: 1, Strategy: schemas.StrategyHeuristic, PatternName: "puzzle", Confidence: 75, Success: true, Timestamp: now},
		},
		Evaluation: &schemas.Evaluation{Scores: map[string]int{"playability": 80}, Reasoning: "responsive"},
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Meta:       schemas.ResultMeta{GameType: schemas.GamePuzzle, TerminalState: "Completed"},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPersistResult(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full run successfully without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		observedLogger := zap.New(observedZapCore)

		mockPool.ExpectPing().WillReturnError(nil)
		st, err := New(ctx, mockPool, observedLogger)
		require.NoError(t, err)

		result := sampleResult()
		items := []evidence.Item{
			{Ref: "ref-1", StepIndex: 0, Kind: schemas.EvidenceScreenshot, Payload: []byte("png"), RecordedAt: time.Now()},
			{Ref: "ref-2", StepIndex: -1, Kind: schemas.EvidencePlannerTrace, Payload: []byte("{}"), RecordedAt: time.Now()},
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				result.RunID, result.TargetURL, string(result.Status), string(result.Meta.GameType),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_steps"}, stepColumns).
			WillReturnResult(2)
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_evidence"}, evidenceColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback() // Deferred rollback runs after commit and is a no-op.

		err = st.PersistResult(ctx, result, items)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, observedLogs.Len(), "a committed transaction must not log rollback errors")
	})

	t.Run("should skip step and evidence copies when the run is empty", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		st, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		result := sampleResult()
		result.Steps = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				result.RunID, result.TargetURL, string(result.Status), string(result.Meta.GameType),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		err = st.PersistResult(ctx, result, nil)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the step copy fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		st, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		result := sampleResult()
		copyErr := errors.New("copy failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				result.RunID, result.TargetURL, string(result.Status), string(result.Meta.GameType),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_steps"}, stepColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = st.PersistResult(ctx, result, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a short copy count", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		st, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		result := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				result.RunID, result.TargetURL, string(result.Status), string(result.Meta.GameType),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_steps"}, stepColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err = st.PersistResult(ctx, result, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied step count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetResultsByTarget(t *testing.T) {
	ctx := context.Background()

	t.Run("should scan run headers", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		st, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		started := time.Now().Add(-time.Minute)
		finished := time.Now()
		rows := pgxmock.NewRows([]string{"id", "target_url", "status", "started_at", "finished_at", "evaluation", "meta"}).
			AddRow("run-1", "https://good.example/game", "success", started, finished,
				[]byte(`{"scores": {"playability": 70}, "reasoning": "ok"}`),
				[]byte(`{"game_type": "puzzle", "terminal_state": "Completed"}`))

		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, target_url, status, started_at, finished_at, evaluation, meta FROM runs`)).
			WithArgs("https://good.example/game").
			WillReturnRows(rows)

		results, err := st.GetResultsByTarget(ctx, "https://good.example/game")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "run-1", results[0].RunID)
		assert.Equal(t, schemas.RunSuccess, results[0].Status)
		require.NotNil(t, results[0].Evaluation)
		assert.Equal(t, 70, results[0].Evaluation.Scores["playability"])
		assert.Equal(t, schemas.GamePuzzle, results[0].Meta.GameType)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		st, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery("SELECT").WithArgs("https://good.example/game").WillReturnError(queryErr)

		_, err = st.GetResultsByTarget(ctx, "https://good.example/game")
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
	})
}
