// Package loader writes users to a store in fixed size chunks
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/store"
)

const DefaultPhase = "load"

// LoadResult is what a (possibly partial) load managed to do
type LoadResult struct {
	Target   string
	Inserted int
	// rows in chunks that were already recorded as committed and not written again
	Skipped  int
	Chunks   int
	Duration time.Duration
}

// Loader writes users in chunks, each chunk is a single bulk insert on its own connection.
// A failed chunk stops the load, earlier chunks stay committed and nothing is retried.
type Loader struct {
	Gateway  store.Gateway
	Observer shardbench.ProgressObserver
	Logger   shardbench.Logger
	Clock    clock.Clock

	// if set, committed chunks are recorded here
	Journal *shardbench.JournalWriter

	// chunks in this set are skipped, this is how an interrupted load is resumed
	// without running into duplicate keys
	Committed shardbench.ChunkSet
}

func New(gw store.Gateway) *Loader {
	return &Loader{
		Gateway: gw,
		Clock:   clock.New(),
	}
}

// Load is LoadPhase with the default phase name
func (l *Loader) Load(ctx context.Context, target string, users []shardbench.User, batchSize int) (LoadResult, error) {
	return l.LoadPhase(ctx, DefaultPhase, target, users, batchSize)
}

// LoadPhase writes users to target in input order, batchSize users at a time, reporting progress under phase.
// On failure the returned result holds what was committed before the failing chunk along with a *shardbench.WriteError.
func (l *Loader) LoadPhase(ctx context.Context, phase, target string, users []shardbench.User, batchSize int) (LoadResult, error) {
	result := LoadResult{Target: store.Redact(target)}
	if batchSize < 1 {
		return result, shardbench.NewConfigurationError(shardbench.ErrInvalidBatchSize, "load")
	}

	if len(users) == 0 {
		return result, nil
	}

	clk := l.clock()
	started := clk.Now()
	total := len(users)

	chunk := 0
	for offset := 0; offset < total; offset += batchSize {
		end := offset + batchSize
		if end > total {
			end = total
		}
		batch := users[offset:end]

		key := shardbench.ChunkKey{Target: result.Target, FirstID: batch[0].ID, LastID: batch[len(batch)-1].ID}
		if l.Committed.Contains(key) {
			result.Skipped += len(batch)
			shardbench.Notify(l.Observer, phase, result.Inserted+result.Skipped, total, clk.Since(started))
			chunk++
			continue
		}

		err := ctx.Err()
		if err == nil {
			err = store.WithConn(ctx, l.Gateway, target, func(conn store.Conn) error {
				_, err := store.InsertUsers(ctx, conn, batch)
				return err
			})
		}

		if err != nil {
			result.Duration = clk.Since(started)
			shardbench.LogTo(l.Logger, shardbench.LogError, err, fmt.Sprintf("loader: chunk %d to %s failed", chunk, result.Target))
			return result, &shardbench.WriteError{
				Target:    result.Target,
				Chunk:     chunk,
				Committed: result.Inserted,
				Err:       err,
			}
		}

		result.Inserted += len(batch)
		result.Chunks++
		chunk++

		l.Journal.RecordLogErr(l.Logger, shardbench.EvtChunkCommitted, &shardbench.ChunkCommittedData{
			Target:  key.Target,
			FirstID: key.FirstID,
			LastID:  key.LastID,
			Rows:    len(batch),
		})

		shardbench.Notify(l.Observer, phase, result.Inserted+result.Skipped, total, clk.Since(started))
	}

	result.Duration = clk.Since(started)
	shardbench.LogTo(l.Logger, shardbench.LogDebug, nil, fmt.Sprintf("loader: %d rows to %s in %d chunks (%s)", result.Inserted, result.Target, result.Chunks, result.Duration))
	return result, nil
}

func (l *Loader) clock() clock.Clock {
	if l.Clock == nil {
		return clock.New()
	}
	return l.Clock
}
