package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// DefaultTable holds archived turns when no table is configured.
const DefaultTable = "conversation_turns"

// TurnArchive appends committed turns to a Postgres table, one row per
// (session, sequence). Saving the same turn twice keeps the first row.
type TurnArchive struct {
	pool  *pgxpool.Pool
	stmts statements
}

type statements struct {
	create  string
	migrate string
	index   string
	insert string
	recent string
}

func buildStatements(table string) statements {
	t := pq.QuoteIdentifier(table)
	idx := pq.QuoteIdentifier(table + "_session_idx")
	return statements{
		create: `CREATE TABLE IF NOT EXISTS ` + t + ` (
	id                BIGSERIAL PRIMARY KEY,
	session_id        TEXT        NOT NULL,
	sequence          BIGINT      NOT NULL,
	question          TEXT        NOT NULL,
	question_type     TEXT        NOT NULL,
	entities          TEXT[]      NOT NULL DEFAULT '{}',
	query             TEXT        NOT NULL DEFAULT '',
	filter            TEXT[]      NOT NULL DEFAULT '{}',
	execution_summary TEXT        NOT NULL DEFAULT '',
	answer            TEXT        NOT NULL DEFAULT '',
	failed_stage      TEXT        NOT NULL DEFAULT '',
	failure           TEXT        NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ NOT NULL,
	committed_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, sequence)
)`,
		migrate: `ALTER TABLE ` + t + ` ADD COLUMN IF NOT EXISTS filter TEXT[] NOT NULL DEFAULT '{}'`,
		index:   `CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + t + ` (session_id, sequence DESC)`,
		insert: `INSERT INTO ` + t + ` (session_id, sequence, question, question_type, entities, query,
	filter, execution_summary, answer, failed_stage, failure, started_at, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (session_id, sequence) DO NOTHING`,
		recent: `SELECT sequence, question, question_type, entities, query, filter, execution_summary, answer,
	failed_stage, failure, started_at, committed_at
FROM ` + t + `
WHERE session_id = $1
ORDER BY sequence DESC
LIMIT $2`,
	}
}

// NewTurnArchive returns an archive writing to table in pool.
func NewTurnArchive(pool *pgxpool.Pool, table string) *TurnArchive {
	if table == "" {
		table = DefaultTable
	}
	return &TurnArchive{pool: pool, stmts: buildStatements(table)}
}

// EnsureSchema creates the table and its index if they are missing.
func (a *TurnArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, a.stmts.create); err != nil {
		return fmt.Errorf("create turn table: %w", err)
	}
	if _, err := a.pool.Exec(ctx, a.stmts.migrate); err != nil {
		return fmt.Errorf("migrate turn table: %w", err)
	}
	if _, err := a.pool.Exec(ctx, a.stmts.index); err != nil {
		return fmt.Errorf("create turn index: %w", err)
	}
	return nil
}

// Save stores turn under sessionID.
func (a *TurnArchive) Save(ctx context.Context, sessionID string, turn memory.Turn) error {
	_, err := a.pool.Exec(ctx, a.stmts.insert,
		sessionID, turn.Sequence, turn.Question, string(turn.QuestionType), nonNil(turn.Entities), turn.Query,
		nonNil(turn.Filter), turn.ExecutionSummary, turn.Answer, turn.FailedStage, turn.Failure, turn.StartedAt, turn.CommittedAt)
	if err != nil {
		return fmt.Errorf("insert turn %d: %w", turn.Sequence, err)
	}
	return nil
}

// Recent returns up to limit archived turns of sessionID, oldest first.
func (a *TurnArchive) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		limit = memory.DefaultCapacity
	}

	rows, err := a.pool.Query(ctx, a.stmts.recent, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var (
			t  memory.Turn
			qt string
		)
		if err := rows.Scan(&t.Sequence, &t.Question, &qt, &t.Entities, &t.Query, &t.Filter, &t.ExecutionSummary,
			&t.Answer, &t.FailedStage, &t.Failure, &t.StartedAt, &t.CommittedAt); err != nil {
			return nil, err
		}
		t.QuestionType = memory.QuestionType(qt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
