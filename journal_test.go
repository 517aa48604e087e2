package shardbench

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournalWriter(&buf)

	require.NoError(t, j.Record(EvtRunStarted, &RunStartedData{RunID: "r1", Main: "mem://main", Shards: []string{"mem://a", "mem://b"}, Users: 10, BatchSize: 5}))
	require.NoError(t, j.Record(EvtChunkCommitted, &ChunkCommittedData{Target: "mem://a", FirstID: 1, LastID: 5, Rows: 5}))
	require.NoError(t, j.Record(EvtStoreFailed, &StoreFailedData{Phase: PhaseMigrate, Locator: "mem://b", Shard: 1, Error: "boom"}))
	require.NoError(t, j.Record(EvtRunFinished, nil))

	var msgs []*Message
	err := ReadJournal(&buf, func(m *Message) error {
		msgs = append(msgs, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, EvtRunStarted, msgs[0].EvtID)
	started := msgs[0].DecodedBody.(*RunStartedData)
	assert.Equal(t, "r1", started.RunID)
	assert.Equal(t, []string{"mem://a", "mem://b"}, started.Shards)

	failed := msgs[2].DecodedBody.(*StoreFailedData)
	assert.Equal(t, 1, failed.Shard)
	assert.Equal(t, "boom", failed.Error)

	assert.Equal(t, EvtRunFinished, msgs[3].EvtID)
	assert.Nil(t, msgs[3].DecodedBody)
}

func TestReadJournalTruncated(t *testing.T) {
	encoded, err := EncodeMessage(EvtChunkCommitted, &ChunkCommittedData{Target: "x", FirstID: 1, LastID: 2, Rows: 2})
	require.NoError(t, err)

	for _, cut := range []int{2, 6, len(encoded) - 1} {
		n := 0
		err := ReadJournal(bytes.NewReader(encoded[:cut]), func(m *Message) error {
			n++
			return nil
		})
		assert.Equal(t, ErrTruncatedJournal, err, "cut at %d", cut)
		assert.Equal(t, 0, n)
	}
}

func TestReadJournalUnknownEvent(t *testing.T) {
	err := ReadJournal(bytes.NewReader(EncodeMessageRaw(99, nil)), func(m *Message) error { return nil })
	require.Error(t, err)

	_, ok := errors.Cause(err).(*UnknownEventError)
	assert.True(t, ok)
}

func TestReadJournalHandlerError(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournalWriter(&buf)
	j.RecordLogErr(nil, EvtPhaseStarted, &PhaseData{Phase: PhaseGenerate})
	j.RecordLogErr(nil, EvtPhaseStarted, &PhaseData{Phase: PhaseMigrate})

	stop := errors.New("stop")
	n := 0
	err := ReadJournal(&buf, func(m *Message) error {
		n++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, n)
}

func TestNilJournalWriter(t *testing.T) {
	var j *JournalWriter
	assert.NoError(t, j.Record(EvtRunFinished, &RunFinishedData{}))
	assert.NoError(t, j.Close())
}

func TestCommittedChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.journal")

	j, err := OpenJournal(path)
	require.NoError(t, err)
	j.RecordLogErr(nil, EvtPhaseStarted, &PhaseData{Phase: PhaseMigrate})
	j.RecordLogErr(nil, EvtChunkCommitted, &ChunkCommittedData{Target: "mem://a", FirstID: 1, LastID: 10, Rows: 10})
	require.NoError(t, j.Close())

	// reopening appends
	j, err = OpenJournal(path)
	require.NoError(t, err)
	j.RecordLogErr(nil, EvtChunkCommitted, &ChunkCommittedData{Target: "mem://a", FirstID: 11, LastID: 20, Rows: 10})
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	set, err := CommittedChunks(f)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.True(t, set.Contains(ChunkKey{Target: "mem://a", FirstID: 1, LastID: 10}))
	assert.True(t, set.Contains(ChunkKey{Target: "mem://a", FirstID: 11, LastID: 20}))
	assert.False(t, set.Contains(ChunkKey{Target: "mem://b", FirstID: 1, LastID: 10}))

	var empty ChunkSet
	assert.False(t, empty.Contains(ChunkKey{}))
}

func TestCommittedChunksForgetsClearedStores(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournalWriter(&buf)

	j.RecordLogErr(nil, EvtChunkCommitted, &ChunkCommittedData{Target: "mem://a", FirstID: 1, LastID: 10, Rows: 10})
	j.RecordLogErr(nil, EvtChunkCommitted, &ChunkCommittedData{Target: "mem://b", FirstID: 1, LastID: 10, Rows: 10})
	j.RecordLogErr(nil, EvtStoresCleared, &StoresClearedData{Targets: []string{"mem://a"}})
	j.RecordLogErr(nil, EvtChunkCommitted, &ChunkCommittedData{Target: "mem://a", FirstID: 11, LastID: 20, Rows: 10})

	set, err := CommittedChunks(&buf)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.False(t, set.Contains(ChunkKey{Target: "mem://a", FirstID: 1, LastID: 10}))
	assert.True(t, set.Contains(ChunkKey{Target: "mem://a", FirstID: 11, LastID: 20}))
	assert.True(t, set.Contains(ChunkKey{Target: "mem://b", FirstID: 1, LastID: 10}))

	set.DropTarget("mem://b")
	assert.Len(t, set, 1)

	var empty ChunkSet
	empty.DropTarget("mem://a")
}
