package dialogue

import (
	"context"
	"errors"
	"log/slog"
)

// MultiWriter appends every record to all of its writers. A failing writer
// does not stop the others; all failures are joined.
type MultiWriter []Writer

var _ Writer = MultiWriter(nil)

// Append implements [Writer].
func (m MultiWriter) Append(ctx context.Context, r Record) error {
	var errs []error
	for _, w := range m {
		if err := w.Append(ctx, r); err != nil {
			slog.Warn("dialogue: writer failed", "sentence_id", r.SentenceID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements [Writer].
func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
