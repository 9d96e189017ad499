package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie1223/stock-screener/internal/screen"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "screener.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRunAndRecentRuns(t *testing.T) {
	s := openTestStore(t)

	stats := []screen.StageStat{
		{Step: 1, Name: "市值", Input: 1800, Output: 900},
		{Step: 2, Name: "漲幅", Input: 900, Output: 40},
	}
	started := time.Date(2026, 2, 10, 13, 5, 0, 0, time.UTC)

	runID, err := s.RecordRun("left", started, 95*time.Second, 1800, 40, false, stats)
	require.NoError(t, err)
	assert.Greater(t, runID, int64(0))

	_, err = s.RecordRun("right", started.Add(time.Hour), 30*time.Second, 1800, 5, true, nil)
	require.NoError(t, err)

	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "right", runs[0].Mode, "newest first")
	assert.True(t, runs[0].UsedFallback)
	assert.Equal(t, "left", runs[1].Mode)
	assert.Equal(t, 1800, runs[1].UniverseSize)
	assert.Equal(t, 40, runs[1].FinalCount)
	assert.Equal(t, int64(95000), runs[1].DurationMS)
}

func TestRecordNotification(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.RecordRun("left", time.Now(), time.Second, 10, 1, false, nil)
	require.NoError(t, err)

	s.RecordNotification(runID, "discord-results", true, "")
	s.RecordNotification(0, "discord-error", false, "webhook HTTP 429")

	var count int
	require.NoError(t, s.sql.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&count))
	assert.Equal(t, 2, count)

	var ok int
	var detail string
	require.NoError(t, s.sql.QueryRow(
		"SELECT ok, detail FROM notifications WHERE channel = 'discord-error'").Scan(&ok, &detail))
	assert.Equal(t, 0, ok)
	assert.Equal(t, "webhook HTTP 429", detail)
}

func TestOpen_SameFileTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screener.db")

	first, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, zerolog.Nop())
	require.NoError(t, err, "migrations are idempotent")
	require.NoError(t, second.Close())
}
