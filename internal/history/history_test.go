package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/studiobridge/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := base.Add(2 * time.Second)

	require.NoError(t, s.Record(ctx, Entry{
		Source:    SourcePrompt,
		Prompt:    "first",
		CreatedAt: base,
	}))
	require.NoError(t, s.Record(ctx, Entry{
		Source:        SourcePrompt,
		Prompt:        "second",
		GeneratedText: "```luau\nreturn 1\n```",
		Code:          "return 1",
		Output:        "1",
		CreatedAt:     base.Add(time.Second),
		CompletedAt:   &done,
	}))
	require.NoError(t, s.Record(ctx, Entry{
		Source:    SourceRun,
		Prompt:    "print(2)",
		Error:     "result channel closed before a response arrived",
		CreatedAt: base.Add(3 * time.Second),
	}))

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "print(2)", entries[0].Prompt)
	assert.Equal(t, SourceRun, entries[0].Source)
	assert.NotEmpty(t, entries[0].Error)
	assert.Nil(t, entries[0].CompletedAt)

	second := entries[1]
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, "return 1", second.Code)
	assert.Equal(t, "1", second.Output)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, done.Equal(*second.CompletedAt))
	assert.True(t, base.Add(time.Second).Equal(second.CreatedAt))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecentDefaultsLimitAndSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Record(ctx, Entry{Prompt: "no source"}))

	entries, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SourcePrompt, entries[0].Source)
	assert.True(t, fixed.Equal(entries[0].CreatedAt))
}

func TestRecordRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Entry{ID: "same", Prompt: "a"}))
	assert.Error(t, s.Record(ctx, Entry{ID: "same", Prompt: "b"}))
}
