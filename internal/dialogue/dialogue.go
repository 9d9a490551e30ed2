// Package dialogue persists one record per translated sentence.
//
// Records are append-only. [FileWriter] writes a per-session JSON Lines or CSV
// file and flushes after every record; [PostgresWriter] inserts into a
// dialogue_records table; [MultiWriter] fans out to several writers.
package dialogue

import (
	"context"
	"time"
)

// SessionIDLayout is the time layout of session IDs and dialogue file names.
const SessionIDLayout = "20060102_150405"

// NewSessionID returns the session ID for a session started at t.
func NewSessionID(t time.Time) string {
	return t.Format(SessionIDLayout)
}

// Record is one translated sentence.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	SentenceID uint64    `json:"sentence_id"`
	Source     string    `json:"source_sentence"`
	Translated string    `json:"translated_sentence"`
	Context    string    `json:"scenario_context"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	LatencyMs  float64   `json:"latency_ms"`
}

// Writer appends dialogue records.
type Writer interface {
	// Append stores r. Implementations must be safe for concurrent use.
	Append(ctx context.Context, r Record) error

	// Close flushes and releases the writer.
	Close() error
}
