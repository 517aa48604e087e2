package shardbench

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var ErrTruncatedJournal = errors.New("journal ends in the middle of an event")

// JournalWriter appends framed events to a journal, safe for concurrent use.
// A nil *JournalWriter discards everything, so components can hold one unconditionally.
type JournalWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJournalWriter wraps w, the caller owns closing it
func NewJournalWriter(w io.Writer) *JournalWriter {
	return &JournalWriter{w: w}
}

// OpenJournal opens (or creates) the journal at path for appending
func OpenJournal(path string) (*JournalWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithMessage(err, "os.OpenFile")
	}

	return &JournalWriter{w: f, closer: f}, nil
}

// Record encodes and appends a single event
func (j *JournalWriter) Record(evtID EventType, data interface{}) error {
	if j == nil {
		return nil
	}

	encoded, err := EncodeMessage(evtID, data)
	if err != nil {
		return errors.WithMessage(err, "EncodeMessage")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.w.Write(encoded)
	return errors.WithMessage(err, "journal write")
}

// RecordLogErr is Record but logs the error instead of returning it, the journal is never worth failing a run over
func (j *JournalWriter) RecordLogErr(l Logger, evtID EventType, data interface{}) {
	err := j.Record(evtID, data)
	if err != nil {
		LogTo(l, LogWarning, err, "failed writing "+evtID.String()+" to the journal")
	}
}

func (j *JournalWriter) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// ReadJournal decodes events from r in order and calls handler for each of them,
// it stops at the first handler error
func ReadJournal(r io.Reader, handler func(*Message) error) error {
	idBuf := make([]byte, 4)
	lenBuf := make([]byte, 4)
	for {
		// Read the event id, a clean EOF here is the end of the journal
		_, err := io.ReadFull(r, idBuf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errTruncated(err)
		}

		// Read the body length
		_, err = io.ReadFull(r, lenBuf)
		if err != nil {
			return errTruncated(err)
		}

		id := EventType(binary.LittleEndian.Uint32(idBuf))
		l := binary.LittleEndian.Uint32(lenBuf)
		body := make([]byte, int(l))
		if l > 0 {
			_, err = io.ReadFull(r, body)
			if err != nil {
				return errTruncated(err)
			}
		}

		decoded, err := DecodePayload(id, body)
		if err != nil {
			return errors.WithMessage(err, "DecodePayload")
		}

		err = handler(&Message{EvtID: id, DecodedBody: decoded})
		if err != nil {
			return err
		}
	}
}

func errTruncated(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return ErrTruncatedJournal
	}
	return errors.WithMessage(err, "journal read")
}

// ChunkKey identifies a chunk written by the batch loader
type ChunkKey struct {
	Target  string
	FirstID int64
	LastID  int64
}

// ChunkSet is a set of committed chunks
type ChunkSet map[ChunkKey]struct{}

func (cs ChunkSet) Add(k ChunkKey) {
	cs[k] = struct{}{}
}

// Contains is false for a nil set
func (cs ChunkSet) Contains(k ChunkKey) bool {
	if cs == nil {
		return false
	}
	_, ok := cs[k]
	return ok
}

// DropTarget forgets every chunk committed to target
func (cs ChunkSet) DropTarget(target string) {
	for k := range cs {
		if k.Target == target {
			delete(cs, k)
		}
	}
}

// CommittedChunks replays a journal and returns the chunks that are still committed:
// chunks recorded before a StoresCleared event for their target are left out
func CommittedChunks(r io.Reader) (ChunkSet, error) {
	set := make(ChunkSet)
	err := ReadJournal(r, func(m *Message) error {
		switch data := m.DecodedBody.(type) {
		case *ChunkCommittedData:
			set.Add(ChunkKey{Target: data.Target, FirstID: data.FirstID, LastID: data.LastID})
		case *StoresClearedData:
			for _, t := range data.Targets {
				set.DropTarget(t)
			}
		}
		return nil
	})
	return set, err
}
