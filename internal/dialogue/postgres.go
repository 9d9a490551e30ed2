package dialogue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDialogueRecords = `
CREATE TABLE IF NOT EXISTS dialogue_records (
    id                  BIGSERIAL         PRIMARY KEY,
    session_id          TEXT              NOT NULL,
    sentence_id         BIGINT            NOT NULL,
    source_sentence     TEXT              NOT NULL,
    translated_sentence TEXT              NOT NULL,
    scenario_context    TEXT              NOT NULL DEFAULT '',
    tokens_in           INTEGER           NOT NULL DEFAULT 0,
    tokens_out          INTEGER           NOT NULL DEFAULT 0,
    latency_ms          DOUBLE PRECISION  NOT NULL DEFAULT 0,
    timestamp           TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialogue_records_session
    ON dialogue_records (session_id, sentence_id);
`

const insertRecord = `
	INSERT INTO dialogue_records
	    (session_id, sentence_id, source_sentence, translated_sentence,
	     scenario_context, tokens_in, tokens_out, latency_ms, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// execer is the subset of [pgxpool.Pool] the writer uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter inserts records into the dialogue_records table.
//
// PostgresWriter is safe for concurrent use.
type PostgresWriter struct {
	db    execer
	close func()
}

var _ Writer = (*PostgresWriter)(nil)

// NewPostgresWriter connects to dsn and runs [Migrate].
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dialogue: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dialogue: ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresWriter{db: pool, close: pool.Close}, nil
}

// Migrate creates the dialogue_records table and its index if absent.
func Migrate(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, ddlDialogueRecords); err != nil {
		return fmt.Errorf("dialogue: migrate: %w", err)
	}
	return nil
}

// Append inserts r.
func (w *PostgresWriter) Append(ctx context.Context, r Record) error {
	_, err := w.db.Exec(ctx, insertRecord,
		r.SessionID,
		int64(r.SentenceID),
		r.Source,
		r.Translated,
		r.Context,
		r.TokensIn,
		r.TokensOut,
		r.LatencyMs,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("dialogue: insert record %d: %w", r.SentenceID, err)
	}
	return nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() error {
	if w.close != nil {
		w.close()
	}
	return nil
}
