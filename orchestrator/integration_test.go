package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/config"
	"github.com/jonas747/shardbench/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = &shardbench.StdLogger{Level: shardbench.LogDebug}

func sqliteConfig(t *testing.T, users, shards int) config.Run {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.MainLocator = "sqlite://" + filepath.Join(dir, "main.db")
	for i := 0; i < shards; i++ {
		cfg.ShardLocators = append(cfg.ShardLocators, "sqlite://"+filepath.Join(dir, fmt.Sprintf("shard%d.db", i)))
	}
	cfg.Users = users
	cfg.BatchSize = 100
	cfg.MigrationChunkSize = 64
	cfg.Iterations = 3
	cfg.JournalPath = filepath.Join(dir, "run.journal")
	return cfg
}

func readIDs(t *testing.T, gw store.Gateway, locator string) []int64 {
	var users []shardbench.User
	err := store.WithConn(context.Background(), gw, locator, func(conn store.Conn) error {
		var err error
		users, err = store.ReadUsers(context.Background(), conn)
		return err
	})
	require.NoError(t, err)
	return shardbench.IDs(users)
}

func TestSQLiteRun(t *testing.T) {
	cfg := sqliteConfig(t, 500, 3)
	cfg.ParallelMigration = true

	o, err := NewStandardOrchestrator(cfg)
	require.NoError(t, err)
	defer o.Journal.Close()
	o.Logger = testLogger

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusOK, report.Status, report.Error)

	assert.Equal(t, 500, report.Generate.Main.Inserted)
	assert.Equal(t, 5, report.Generate.Main.Chunks)
	assert.Equal(t, 500, report.Migration.Moved())

	total := 0
	for i, locator := range cfg.ShardLocators {
		ids := readIDs(t, o.Gateway, locator)
		total += len(ids)
		for _, id := range ids {
			assert.Equal(t, int64(i), id%3)
		}
	}
	assert.Equal(t, 500, total)

	for _, r := range report.Benchmark {
		assert.Zero(t, r.MainErrors, r.Template)
		assert.Zero(t, r.ShardErrors, r.Template)
		assert.True(t, r.MainAvgMs > 0, r.Template)
	}

	// running again starts from a clean slate
	report, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, int64(500), report.Clear[0].Rows)
	assert.Len(t, readIDs(t, o.Gateway, cfg.MainLocator), 500)
}

func TestSQLiteMissingTableIsAQueryError(t *testing.T) {
	cfg := sqliteConfig(t, 10, 2)
	cfg.JournalPath = ""

	o, err := NewStandardOrchestrator(cfg)
	require.NoError(t, err)

	// no prepare, so every query fails, and that must not look like an empty result
	results, err := o.Benchmark(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, r.Iterations, r.MainErrors, r.Template)
		assert.Equal(t, r.Iterations, r.ShardErrors, r.Template)
		assert.Contains(t, r.LastError, "no such table")
	}
}
