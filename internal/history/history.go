// Package history keeps an audit log of prompt and run requests in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sources of a history entry.
const (
	SourcePrompt = "prompt"
	SourceRun    = "run"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 20

// MaxLimit caps Recent.
const MaxLimit = 500

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one request served by the bridge.
type Entry struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Prompt        string     `json:"prompt"`
	GeneratedText string     `json:"generated_text,omitempty"`
	Code          string     `json:"code,omitempty"`
	Output        string     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Store persists entries in the prompt_log table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record inserts e, filling in ID and CreatedAt when they are zero.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Source == "" {
		e.Source = SourcePrompt
	}

	var completed any
	if e.CompletedAt != nil {
		completed = e.CompletedAt.UTC().Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_log(id, source, prompt, generated_text, code, output, error, created_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Source, e.Prompt, nullable(e.GeneratedText), nullable(e.Code), nullable(e.Output), nullable(e.Error),
		e.CreatedAt.UTC().Format(timeLayout), completed)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, prompt, generated_text, code, output, error, created_at, completed_at
FROM prompt_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                                Entry
			generated, code, output, errText sql.NullString
			createdAt                        string
			completedAt                      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Prompt, &generated, &code, &output, &errText, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.GeneratedText = generated.String
		e.Code = code.String
		e.Output = output.String
		e.Error = errText.String

		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", e.ID, err)
		}
		if completedAt.Valid {
			t, err := time.Parse(timeLayout, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at for %s: %w", e.ID, err)
			}
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_log;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
