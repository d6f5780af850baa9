package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

func TestFileJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")
	ctx := context.Background()
	j, err := OpenFileJournal(path)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	a := model.Attempt{ID: "a1", InstanceID: "i1", State: model.StatePending, StartedAt: now, UpdatedAt: now}
	require.NoError(t, j.Record(ctx, a))
	a.State = model.StateClosedPROpened
	a.PRURL = "https://github.com/acme/widgets/pull/1"
	require.NoError(t, j.Record(ctx, a))

	reopened, err := OpenFileJournal(path)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StateClosedPROpened, got.State)
	assert.Equal(t, a.PRURL, got.PRURL)
	assert.True(t, got.UpdatedAt.Equal(now))

	_, ok, err = reopened.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, reopened.Close(ctx))
}

func TestFileJournalPrunesOldAttempts(t *testing.T) {
	j, err := OpenFileJournal(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, model.Attempt{InstanceID: "old", UpdatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, j.Record(ctx, model.Attempt{InstanceID: "new", UpdatedAt: now}))

	_, ok, _ := j.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = j.Get(ctx, "new")
	assert.True(t, ok)
}
