package orchestrator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/config"
	"github.com/jonas747/shardbench/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(users int, shards int) config.Run {
	cfg := config.Default()
	cfg.MainLocator = "mem://main"
	cfg.ShardLocators = shardLocators(shards)
	cfg.Users = users
	cfg.BatchSize = 7
	cfg.MigrationChunkSize = 4
	cfg.Iterations = 2
	return cfg
}

func newTestOrchestrator(cfg config.Run) (*Orchestrator, *store.MemoryGateway, *bytes.Buffer) {
	mem := store.NewMemoryGateway()
	var journal bytes.Buffer

	o := NewOrchestrator(cfg, mem)
	o.Journal = shardbench.NewJournalWriter(&journal)
	return o, mem, &journal
}

func journalEvents(t *testing.T, buf *bytes.Buffer) []*shardbench.Message {
	var msgs []*shardbench.Message
	err := shardbench.ReadJournal(bytes.NewReader(buf.Bytes()), func(m *shardbench.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	require.NoError(t, err)
	return msgs
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(30, 3)
	o, mem, journal := newTestOrchestrator(cfg)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, report.Status)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Error)
	assert.Len(t, report.Checks, 4)
	assert.Len(t, report.Prepare, 4)
	assert.Len(t, report.Clear, 4)

	require.NotNil(t, report.Generate)
	assert.Equal(t, 30, report.Generate.Main.Inserted)
	assert.Nil(t, report.Generate.Direct)

	require.NotNil(t, report.Migration)
	assert.Equal(t, []int{10, 10, 10}, report.Migration.Counts())
	assert.Len(t, report.Benchmark, 4)

	assert.Equal(t, 30, mem.Store("mem://main").Len())
	for i, s := range cfg.ShardLocators {
		for _, id := range mem.Store(s).IDs() {
			assert.Equal(t, int64(i), id%3)
		}
	}

	msgs := journalEvents(t, journal)
	require.NotEmpty(t, msgs)
	assert.Equal(t, shardbench.EvtRunStarted, msgs[0].EvtID)
	last := msgs[len(msgs)-1]
	require.Equal(t, shardbench.EvtRunFinished, last.EvtID)
	assert.Equal(t, "ok", last.DecodedBody.(*shardbench.RunFinishedData).Status)

	counts := make(map[shardbench.EventType]int)
	for _, m := range msgs {
		counts[m.EvtID]++
	}
	assert.Equal(t, 4, counts[shardbench.EvtBenchmarkResult])
	assert.Equal(t, 6, counts[shardbench.EvtPhaseStarted])
	assert.Equal(t, 6, counts[shardbench.EvtPhaseFinished])
	assert.Equal(t, 1, counts[shardbench.EvtStoresCleared])
	assert.Equal(t, 0, counts[shardbench.EvtStoreFailed])

	status := o.Status()
	assert.False(t, status.Running)
	assert.Equal(t, shardbench.PhaseIdle, status.Phase)
	assert.Equal(t, report, status.LastReport)
}

func TestRunIsRepeatable(t *testing.T) {
	o, mem, _ := newTestOrchestrator(testConfig(12, 2))

	for i := 0; i < 2; i++ {
		report, err := o.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusOK, report.Status)
	}

	// the clear phase wiped the first run's users
	assert.Equal(t, 12, mem.Store("mem://main").Len())
}

func TestRunDegradedByShard(t *testing.T) {
	cfg := testConfig(20, 4)
	o, mem, journal := newTestOrchestrator(cfg)
	mem.Store(cfg.ShardLocators[2]).SetUnreachable(true)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, report.Status)
	assert.False(t, report.Checks[3].OK())
	assert.Equal(t, 2, report.Checks[3].Shard)
	assert.Equal(t, []int{2}, report.Migration.Failed())
	assert.Equal(t, []int{0, 1, 3}, report.Migration.Succeeded())

	// only range and aggregate queries reach the broken shard, but every one of them does
	for _, r := range report.Benchmark {
		if r.Kind != "point lookup" {
			assert.Equal(t, r.Iterations, r.ShardErrors, r.Template)
		}
		assert.Equal(t, 0, r.MainErrors)
	}

	failed := 0
	for _, m := range journalEvents(t, journal) {
		if m.EvtID == shardbench.EvtStoreFailed {
			assert.Equal(t, 2, m.DecodedBody.(*shardbench.StoreFailedData).Shard)
			failed++
		}
	}
	// check, prepare, clear and migrate
	assert.Equal(t, 4, failed)
}

func TestRunFailsWithoutMain(t *testing.T) {
	cfg := testConfig(10, 2)
	o, mem, _ := newTestOrchestrator(cfg)
	mem.Store(cfg.MainLocator).SetUnreachable(true)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Len(t, report.Checks, 3)
	assert.Nil(t, report.Prepare)
	assert.Nil(t, report.Generate)

	for _, s := range cfg.ShardLocators {
		assert.Equal(t, 0, mem.Store(s).Len())
	}
}

func TestRunConfigurationError(t *testing.T) {
	cfg := testConfig(10, 2)
	cfg.ShardLocators = nil
	o, mem, journal := newTestOrchestrator(cfg)

	report, err := o.Run(context.Background())
	assert.Nil(t, report)
	assert.True(t, shardbench.IsConfigurationError(err))
	assert.Zero(t, journal.Len())

	opened, _ := mem.Store(cfg.MainLocator).Connections()
	assert.Equal(t, 0, opened)
}

func TestOperationsAreExclusive(t *testing.T) {
	o, _, _ := newTestOrchestrator(testConfig(10, 2))
	require.NoError(t, o.acquire())

	_, err := o.Clear(context.Background())
	assert.Equal(t, ErrRunInProgress, err)

	_, err = o.Run(context.Background())
	assert.Equal(t, ErrRunInProgress, err)
	assert.True(t, o.Status().Running)

	o.release()
	_, err = o.Clear(context.Background())
	assert.NoError(t, err)
}

func TestDirectGenerationMatchesMigration(t *testing.T) {
	cfg := testConfig(50, 3)

	direct, directMem, _ := newTestOrchestrator(cfg)
	res, err := direct.Generate(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, res.Direct)
	assert.Equal(t, 50, res.Direct.Moved())

	migrated, migratedMem, _ := newTestOrchestrator(cfg)
	_, err = migrated.Generate(context.Background(), false)
	require.NoError(t, err)
	_, err = migrated.Migrate(context.Background())
	require.NoError(t, err)

	for _, s := range cfg.ShardLocators {
		assert.Equal(t, migratedMem.Store(s).IDs(), directMem.Store(s).IDs())
	}
}

func TestClearReportsRows(t *testing.T) {
	o, _, _ := newTestOrchestrator(testConfig(9, 3))
	_, err := o.Generate(context.Background(), true)
	require.NoError(t, err)

	outcomes, err := o.Clear(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.Equal(t, "main", outcomes[0].Name())
	assert.Equal(t, int64(9), outcomes[0].Rows)
	for _, so := range outcomes[1:] {
		assert.Equal(t, int64(3), so.Rows)
	}
}

func TestResumeMigrationFromJournal(t *testing.T) {
	cfg := testConfig(40, 2)
	cfg.JournalPath = filepath.Join(t.TempDir(), "run.journal")
	mem := store.NewMemoryGateway()

	first := NewOrchestrator(cfg, mem)
	j, err := shardbench.OpenJournal(cfg.JournalPath)
	require.NoError(t, err)
	first.Journal = j

	_, err = first.Generate(context.Background(), false)
	require.NoError(t, err)

	// shard 1 dies after its first chunk of 4
	mem.Store(cfg.ShardLocators[1]).FailInsertsAfter(1)
	res, err := first.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Failed())
	assert.Equal(t, 4, res.Shards[1].Moved)
	require.NoError(t, j.Close())

	mem.Store(cfg.ShardLocators[1]).FailInsertsAfter(-1)

	second := NewOrchestrator(cfg, mem)
	n, err := second.LoadCommittedChunks(cfg.JournalPath)
	require.NoError(t, err)
	// 6 chunks on main, 5 on shard 0, 1 on shard 1
	assert.Equal(t, 12, n)

	res, err = second.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Failed())
	assert.Equal(t, []int{20, 20}, res.Counts())
	assert.Equal(t, 20, mem.Store(cfg.ShardLocators[1]).Len())

	// shard 0 was complete already, shard 1 only had its first chunk
	assert.Equal(t, 0, res.Shards[0].Moved)
	assert.Equal(t, 20, res.Shards[0].Skipped)
	assert.Equal(t, 16, res.Shards[1].Moved)
	assert.Equal(t, 4, res.Shards[1].Skipped)
	assert.Equal(t, 16, res.Moved())
}

// journalStep runs fn on a fresh orchestrator appending to the journal at cfg.JournalPath,
// the way each shardbench command does
func journalStep(t *testing.T, cfg config.Run, mem *store.MemoryGateway, resume bool, fn func(o *Orchestrator)) {
	o := NewOrchestrator(cfg, mem)
	j, err := shardbench.OpenJournal(cfg.JournalPath)
	require.NoError(t, err)
	defer j.Close()
	o.Journal = j

	if resume {
		_, err = o.LoadCommittedChunks(cfg.JournalPath)
		require.NoError(t, err)
	}

	fn(o)
}

func TestResumeAfterClearWritesAgain(t *testing.T) {
	cfg := testConfig(40, 2)
	cfg.JournalPath = filepath.Join(t.TempDir(), "run.journal")
	mem := store.NewMemoryGateway()
	ctx := context.Background()

	generate := func(o *Orchestrator) {
		_, err := o.Generate(ctx, false)
		require.NoError(t, err)
	}

	var res *MigrationResult
	migrate := func(o *Orchestrator) {
		var err error
		res, err = o.Migrate(ctx)
		require.NoError(t, err)
	}

	journalStep(t, cfg, mem, false, generate)
	journalStep(t, cfg, mem, false, migrate)
	journalStep(t, cfg, mem, false, func(o *Orchestrator) {
		_, err := o.Clear(ctx)
		require.NoError(t, err)
	})
	for _, s := range cfg.ShardLocators {
		require.Equal(t, 0, mem.Store(s).Len())
	}

	journalStep(t, cfg, mem, true, generate)
	assert.Equal(t, 40, mem.Store(cfg.MainLocator).Len())

	journalStep(t, cfg, mem, true, migrate)
	assert.Empty(t, res.Failed())
	assert.Equal(t, 40, res.Moved())
	assert.Equal(t, 0, res.Skipped())
	assert.Equal(t, []int{20, 20}, res.Counts())
	for _, s := range cfg.ShardLocators {
		assert.Equal(t, 20, mem.Store(s).Len(), s)
	}
}

func TestClearForgetsLoadedChunks(t *testing.T) {
	cfg := testConfig(12, 3)
	cfg.JournalPath = filepath.Join(t.TempDir(), "run.journal")
	mem := store.NewMemoryGateway()
	ctx := context.Background()

	journalStep(t, cfg, mem, false, func(o *Orchestrator) {
		_, err := o.Generate(ctx, true)
		require.NoError(t, err)
	})

	journalStep(t, cfg, mem, true, func(o *Orchestrator) {
		require.NotEmpty(t, o.Committed)

		_, err := o.Clear(ctx)
		require.NoError(t, err)
		assert.Empty(t, o.Committed)

		_, err = o.Generate(ctx, false)
		require.NoError(t, err)
		res, err := o.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 12, res.Moved())
		assert.Equal(t, []int{4, 4, 4}, res.Counts())
	})

	for _, s := range cfg.ShardLocators {
		assert.Equal(t, 4, mem.Store(s).Len(), s)
	}
}

func TestLoadCommittedChunksMissingJournal(t *testing.T) {
	o, _, _ := newTestOrchestrator(testConfig(1, 1))
	n, err := o.LoadCommittedChunks(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewStandardOrchestrator(t *testing.T) {
	cfg := testConfig(5, 2)
	cfg.Debug = true
	cfg.JournalPath = filepath.Join(t.TempDir(), "j")

	o, err := NewStandardOrchestrator(cfg)
	require.NoError(t, err)
	defer o.Journal.Close()

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)

	cfg.Users = 0
	_, err = NewStandardOrchestrator(cfg)
	assert.True(t, shardbench.IsConfigurationError(err))
}
