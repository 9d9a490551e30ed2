package dialogue

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Formats supported by [FileWriter].
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

var csvHeader = []string{
	"timestamp", "session_id", "sentence_id", "source", "translation",
	"context", "tokens_in", "tokens_out", "latency",
}

// FileWriter appends records to <dir>/dialogue_<session>.<format>.
//
// FileWriter is safe for concurrent use.
type FileWriter struct {
	path   string
	format string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	csv *csv.Writer
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter creates dir if needed and opens the session file in append
// mode. The CSV header is written only when the file is new.
func NewFileWriter(dir, sessionID, format string) (*FileWriter, error) {
	switch format {
	case "":
		format = FormatJSONL
	case FormatJSONL, FormatCSV:
	default:
		return nil, fmt.Errorf("dialogue: unknown format %q (want %q or %q)", format, FormatJSONL, FormatCSV)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dialogue: create directory: %w", err)
	}
	path := filepath.Join(dir, "dialogue_"+sessionID+"."+format)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dialogue: open %s: %w", path, err)
	}
	w := &FileWriter{path: path, format: format, f: f, buf: bufio.NewWriter(f)}

	if format == FormatCSV {
		w.csv = csv.NewWriter(w.buf)
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("dialogue: stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			if err := w.writeCSV(csvHeader); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return w, nil
}

// Path returns the file being written.
func (w *FileWriter) Path() string { return w.path }

// Append writes r and flushes it to the file.
func (w *FileWriter) Append(_ context.Context, r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("dialogue: append to closed writer %s", w.path)
	}

	if w.format == FormatCSV {
		return w.writeCSV([]string{
			r.Timestamp.Format(time.RFC3339Nano),
			r.SessionID,
			strconv.FormatUint(r.SentenceID, 10),
			r.Source,
			r.Translated,
			r.Context,
			strconv.Itoa(r.TokensIn),
			strconv.Itoa(r.TokensOut),
			strconv.FormatFloat(r.LatencyMs, 'f', 2, 64),
		})
	}

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("dialogue: encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("dialogue: write record: %w", err)
	}
	return w.flush()
}

func (w *FileWriter) writeCSV(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("dialogue: write csv row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("dialogue: flush csv: %w", err)
	}
	return w.flush()
}

func (w *FileWriter) flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("dialogue: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Further appends fail.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	ferr := w.buf.Flush()
	cerr := w.f.Close()
	w.f = nil
	if ferr != nil {
		return fmt.Errorf("dialogue: flush on close: %w", ferr)
	}
	if cerr != nil {
		return fmt.Errorf("dialogue: close: %w", cerr)
	}
	return nil
}
