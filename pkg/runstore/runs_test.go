package runstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gotempus/pkg/manifest"
)

func TestCreateRun(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	run, err := CreateRun(ctx, db, "s3://log-bucket/jobs/", "abc123")
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.True(t, strings.HasPrefix(run.RunID, "run_"))
	assert.Equal(t, "s3://log-bucket/jobs/", run.SourceURI)
	assert.Equal(t, "abc123", run.ManifestHash)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.EndedAt)

	t.Run("round trip", func(t *testing.T) {
		retrieved, err := GetRun(ctx, db, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, run.RunID, retrieved.RunID)
		assert.Equal(t, run.SourceURI, retrieved.SourceURI)
		assert.Equal(t, run.ManifestHash, retrieved.ManifestHash)
		assert.Equal(t, RunStatusRunning, retrieved.Status)
		assert.Nil(t, retrieved.EndedAt)
		assert.Equal(t, int64(0), retrieved.LinesRead)
	})
}

func TestFinishRun(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	run, err := CreateRun(ctx, db, "file:///var/log/jobs", "def456")
	require.NoError(t, err)

	totals := Totals{
		LinesRead:      1000,
		EventsApplied:  950,
		ResultsEmitted: 475,
		Skipped:        50,
		OpenAtEnd:      3,
	}
	require.NoError(t, FinishRun(ctx, db, run.RunID, RunStatusPartial, totals))

	retrieved, err := GetRun(ctx, db, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPartial, retrieved.Status)
	require.NotNil(t, retrieved.EndedAt)
	assert.False(t, retrieved.EndedAt.Before(retrieved.StartedAt))
	assert.Equal(t, int64(1000), retrieved.LinesRead)
	assert.Equal(t, int64(950), retrieved.EventsApplied)
	assert.Equal(t, int64(475), retrieved.ResultsEmitted)
	assert.Equal(t, int64(50), retrieved.Skipped)
	assert.Equal(t, int64(3), retrieved.OpenAtEnd)
}

func TestGetRun_NotFound(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	_, err = GetRun(ctx, db, "run_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	// Distinct started_at values for stable ordering
	first, err := CreateRun(ctx, db, "file:///var/log/a", "h1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := CreateRun(ctx, db, "file:///var/log/b", "h2")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	third, err := CreateRun(ctx, db, "file:///var/log/c", "h3")
	require.NoError(t, err)

	require.NoError(t, FinishRun(ctx, db, first.RunID, RunStatusSuccess, Totals{LinesRead: 10}))
	require.NoError(t, FinishRun(ctx, db, second.RunID, RunStatusFailed, Totals{}))

	t.Run("newest first", func(t *testing.T) {
		runs, err := ListRuns(ctx, db, 0, "")
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, third.RunID, runs[0].RunID)
		assert.Equal(t, second.RunID, runs[1].RunID)
		assert.Equal(t, first.RunID, runs[2].RunID)
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := ListRuns(ctx, db, 2, "")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, third.RunID, runs[0].RunID)
	})

	t.Run("status filter", func(t *testing.T) {
		runs, err := ListRuns(ctx, db, 0, RunStatusSuccess)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, first.RunID, runs[0].RunID)
		assert.Equal(t, int64(10), runs[0].LinesRead)
	})

	t.Run("status filter with no matches", func(t *testing.T) {
		runs, err := ListRuns(ctx, db, 0, RunStatusPartial)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestHashManifest(t *testing.T) {
	base := func() *manifest.Manifest {
		return &manifest.Manifest{
			Version: "1.0",
			Source:  manifest.SourceConfig{Type: "s3", Bucket: "log-bucket", Prefix: "jobs/"},
			Match:   manifest.MatchConfig{Includes: []string{"**/*.log"}},
		}
	}

	t.Run("deterministic", func(t *testing.T) {
		h1, err := HashManifest(base())
		require.NoError(t, err)
		h2, err := HashManifest(base())
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	})

	t.Run("sensitive to changes", func(t *testing.T) {
		h1, err := HashManifest(base())
		require.NoError(t, err)

		changed := base()
		changed.Monitor.WarnAfterSeconds = 120
		h2, err := HashManifest(changed)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("nil manifest", func(t *testing.T) {
		_, err := HashManifest(nil)
		require.Error(t, err)
	})
}
