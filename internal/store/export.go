package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "txt"
)

type exportedRecord struct {
	ID              uint64          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	Text            string          `json:"text"`
	DurationSeconds float64         `json:"duration_seconds"`
	Language        string          `json:"language,omitempty"`
	ModelName       string          `json:"model_name,omitempty"`
	Segments        json.RawMessage `json:"segments,omitempty"`
}

// Export writes the whole history to w, oldest first, as an indented JSON
// array or as one "[created_at] (1.2s) text" line per record.
func (b *Badger) Export(ctx context.Context, w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		return b.exportJSON(ctx, w)
	case FormatText:
		return b.exportText(ctx, w)
	default:
		return fmt.Errorf("store: unknown export format %q", format)
	}
}

func (b *Badger) exportJSON(ctx context.Context, w io.Writer) error {
	out := []exportedRecord{}
	err := b.scan(ctx, false, func(rec *Record) bool {
		e := exportedRecord{
			ID:              rec.ID,
			CreatedAt:       rec.CreatedAt,
			Text:            rec.Text,
			DurationSeconds: rec.DurationSeconds,
			Language:        rec.Language,
			ModelName:       rec.ModelName,
		}
		if rec.SegmentsJSON != "" && json.Valid([]byte(rec.SegmentsJSON)) {
			e.Segments = json.RawMessage(rec.SegmentsJSON)
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("store: export json: %w", err)
	}
	return nil
}

func (b *Badger) exportText(ctx context.Context, w io.Writer) error {
	bw := bufio.NewWriter(w)
	var writeErr error
	err := b.scan(ctx, false, func(rec *Record) bool {
		_, writeErr = fmt.Fprintln(bw, FormatLine(rec))
		return writeErr == nil
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("store: export txt: %w", writeErr)
	}
	return bw.Flush()
}

// FormatLine renders a record as "[2006-01-02 15:04:05] (1.2s) text" in
// local time.
func FormatLine(rec *Record) string {
	return fmt.Sprintf("[%s] (%.1fs) %s",
		rec.CreatedAt.Local().Format(time.DateTime),
		rec.DurationSeconds,
		rec.Text)
}
