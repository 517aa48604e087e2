package shardbench

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// The event IDs are written to journals on disk, never renumber them
type EventType uint32

const (
	// first event of every run
	EvtRunStarted EventType = 1

	EvtPhaseStarted  EventType = 2
	EvtPhaseFinished EventType = 3

	// a chunk was committed by the batch loader, used to resume loads
	EvtChunkCommitted EventType = 4

	// a store failed during a phase, the phase carried on with the others
	EvtStoreFailed EventType = 5

	EvtBenchmarkResult EventType = 6
	EvtRunFinished     EventType = 7

	// stores were emptied, chunks committed to them earlier no longer count
	EvtStoresCleared EventType = 8
)

var EventsToStringMap = map[EventType]string{
	1: "RunStarted",
	2: "PhaseStarted",
	3: "PhaseFinished",
	4: "ChunkCommitted",
	5: "StoreFailed",
	6: "BenchmarkResult",
	7: "RunFinished",
	8: "StoresCleared",
}

func (evt EventType) String() string {
	return EventsToStringMap[evt]
}

// Mapping of events to structs for their data
var EvtDataMap = map[EventType]interface{}{
	EvtRunStarted:      RunStartedData{},
	EvtPhaseStarted:    PhaseData{},
	EvtPhaseFinished:   PhaseData{},
	EvtChunkCommitted:  ChunkCommittedData{},
	EvtStoreFailed:     StoreFailedData{},
	EvtBenchmarkResult: BenchmarkResultData{},
	EvtRunFinished:     RunFinishedData{},
	EvtStoresCleared:   StoresClearedData{},
}

type Message struct {
	EvtID EventType

	DecodedBody interface{}
}

// EncodeMessage is the same as EncodeMessageRaw but also encodes the data passed using msgpack
func EncodeMessage(evtID EventType, data interface{}) ([]byte, error) {
	if data == nil {
		return EncodeMessageRaw(evtID, nil), nil
	}

	serialized, err := msgpack.Marshal(data)
	if err != nil {
		return nil, errors.WithMessage(err, "msgpack.Marshal")
	}

	return EncodeMessageRaw(evtID, serialized), nil
}

// EncodeMessageRaw encodes the event to the journal format
// first 4 bytes is a uint32 with the event type, next 4 bytes is a uint32 with the body length
// followed by the body itself, which can be empty
func EncodeMessageRaw(evtID EventType, data []byte) []byte {
	var buf bytes.Buffer

	tmpBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmpBuf, uint32(evtID))
	buf.Write(tmpBuf)

	l := uint32(len(data))
	binary.LittleEndian.PutUint32(tmpBuf, l)
	buf.Write(tmpBuf)
	buf.Write(data)

	return buf.Bytes()
}

type UnknownEventError struct {
	Evt EventType
}

func (uee *UnknownEventError) Error() string {
	return fmt.Sprintf("Unknown event: %d", uee.Evt)
}

// DecodePayload decodes payload into a new pointer to the struct registered for evtID
func DecodePayload(evtID EventType, payload []byte) (interface{}, error) {
	t, ok := EvtDataMap[evtID]

	if !ok {
		return nil, &UnknownEventError{Evt: evtID}
	}

	if t == nil || len(payload) == 0 {
		return nil, nil
	}

	clone := reflect.New(reflect.TypeOf(t)).Interface()
	err := msgpack.Unmarshal(payload, clone)
	return clone, err
}
