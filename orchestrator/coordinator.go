package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/loader"
	"github.com/jonas747/shardbench/store"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const DefaultMigrationChunkSize = 1000

// MigrateConfig is fixed for the lifetime of a Coordinator
type MigrateConfig struct {
	// rows per bulk insert on the shards
	ChunkSize int

	// migrate shards concurrently, each shard still gets its chunks in order
	Parallel bool

	// upper bound on concurrently migrated shards when Parallel is set, 0 means one per shard
	Workers int
}

func DefaultMigrateConfig() MigrateConfig {
	return MigrateConfig{ChunkSize: DefaultMigrationChunkSize}
}

// ShardOutcome is what happened to one shard during a phase
type ShardOutcome struct {
	Index    int           `json:"index"`
	Locator  string        `json:"locator"`
	Expected int           `json:"expected"`
	Moved    int           `json:"moved"`
	// rows in chunks an earlier migration already committed, not written again
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

func (so *ShardOutcome) Failed() bool {
	return so.Err != nil || so.Error != ""
}

func (so *ShardOutcome) fail(err error) {
	so.Err = err
	so.Error = err.Error()
}

// MigrationResult holds the per shard outcomes of a migration, in shard order
type MigrationResult struct {
	Read     int            `json:"read"`
	Shards   []ShardOutcome `json:"shards"`
	Duration time.Duration  `json:"duration"`
}

// Counts returns the number of rows each shard holds after the migration,
// written now or skipped as already committed
func (mr *MigrationResult) Counts() []int {
	counts := make([]int, len(mr.Shards))
	for i, s := range mr.Shards {
		counts[i] = s.Moved + s.Skipped
	}
	return counts
}

// Moved is the number of rows written by this migration
func (mr *MigrationResult) Moved() int {
	total := 0
	for _, s := range mr.Shards {
		total += s.Moved
	}
	return total
}

func (mr *MigrationResult) Skipped() int {
	total := 0
	for _, s := range mr.Shards {
		total += s.Skipped
	}
	return total
}

// Failed returns the indexes of the shards that failed
func (mr *MigrationResult) Failed() []int {
	var failed []int
	for _, s := range mr.Shards {
		if s.Failed() {
			failed = append(failed, s.Index)
		}
	}
	return failed
}

// Succeeded returns the indexes of the shards that received all of their rows
func (mr *MigrationResult) Succeeded() []int {
	var ok []int
	for _, s := range mr.Shards {
		if !s.Failed() {
			ok = append(ok, s.Index)
		}
	}
	return ok
}

// Err combines the errors of all failed shards, nil if every shard succeeded
func (mr *MigrationResult) Err() error {
	var err error
	for _, s := range mr.Shards {
		if s.Err != nil {
			err = multierr.Append(err, errors.WithMessage(s.Err, fmt.Sprintf("shard %d", s.Index)))
		}
	}
	return err
}

// Coordinator moves the contents of the main store onto the shards
type Coordinator struct {
	Gateway store.Gateway
	Loader  *loader.Loader
	Logger  shardbench.Logger
	Journal *shardbench.JournalWriter
	Clock   clock.Clock

	cfg MigrateConfig
}

// NewCoordinator creates a coordinator writing through l, a nil l gets a plain loader on gw
func NewCoordinator(cfg MigrateConfig, gw store.Gateway, l *loader.Loader) *Coordinator {
	if l == nil {
		l = loader.New(gw)
	}

	return &Coordinator{
		Gateway: gw,
		Loader:  l,
		Clock:   clock.New(),
		cfg:     cfg,
	}
}

// Migrate reads every user on main and writes each of them to the shard Resolve assigns it to.
// A shard that fails is recorded in the result and does not stop the other shards,
// the returned error is only set when nothing could be migrated at all (bad config, main unreadable).
func (c *Coordinator) Migrate(ctx context.Context, main string, shards []string) (*MigrationResult, error) {
	if len(shards) == 0 {
		return nil, shardbench.NewConfigurationError(shardbench.ErrNoShards, "migrate")
	}

	if c.cfg.ChunkSize < 1 {
		return nil, shardbench.NewConfigurationError(shardbench.ErrInvalidBatchSize, "migrate")
	}

	clk := c.clock()
	started := clk.Now()

	var users []shardbench.User
	err := store.WithConn(ctx, c.Gateway, main, func(conn store.Conn) error {
		var err error
		users, err = store.ReadUsers(ctx, conn)
		return err
	})
	if err != nil {
		c.Log(shardbench.LogError, err, "migrate: failed reading the main store")
		c.Journal.RecordLogErr(c.Logger, shardbench.EvtStoreFailed, &shardbench.StoreFailedData{
			Phase:   shardbench.PhaseMigrate,
			Locator: store.Redact(main),
			Shard:   -1,
			Error:   err.Error(),
		})
		return nil, errors.WithMessage(err, "read main")
	}

	result, err := c.Distribute(ctx, users, shards)
	if err != nil {
		return nil, err
	}

	result.Duration = clk.Since(started)

	if failed := result.Failed(); len(failed) > 0 {
		c.Log(shardbench.LogWarning, nil, fmt.Sprintf("migrate: finished with %d failed shards: %v", len(failed), failed))
	} else {
		c.Log(shardbench.LogInfo, nil, fmt.Sprintf("migrate: moved %d users, skipped %d already committed, in %s", result.Moved(), result.Skipped(), result.Duration))
	}

	return result, nil
}

// Distribute writes users to the shards Resolve assigns them to, it is the second half of Migrate
// and is also used to shard users directly at generation time.
func (c *Coordinator) Distribute(ctx context.Context, users []shardbench.User, shards []string) (*MigrationResult, error) {
	if len(shards) == 0 {
		return nil, shardbench.NewConfigurationError(shardbench.ErrNoShards, "distribute")
	}

	if c.cfg.ChunkSize < 1 {
		return nil, shardbench.NewConfigurationError(shardbench.ErrInvalidBatchSize, "distribute")
	}

	buckets, err := shardbench.Partition(users, len(shards))
	if err != nil {
		return nil, err
	}

	started := c.clock().Now()
	result := &MigrationResult{
		Read:   len(users),
		Shards: make([]ShardOutcome, len(shards)),
	}

	for i, locator := range shards {
		result.Shards[i] = ShardOutcome{
			Index:    i,
			Locator:  store.Redact(locator),
			Expected: len(buckets[i]),
		}
	}

	c.Log(shardbench.LogInfo, nil, fmt.Sprintf("migrate: moving %d users onto %d shards", len(users), len(shards)))

	if c.cfg.Parallel {
		// every shard reports into its own slot and never returns an error, so one
		// failing shard can't cancel the others
		var g errgroup.Group
		if c.cfg.Workers > 0 {
			g.SetLimit(c.cfg.Workers)
		}

		for i := range shards {
			i := i
			g.Go(func() error {
				c.migrateShard(ctx, &result.Shards[i], shards[i], buckets[i])
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range shards {
			c.migrateShard(ctx, &result.Shards[i], shards[i], buckets[i])
		}
	}

	result.Duration = c.clock().Since(started)
	return result, nil
}

func (c *Coordinator) migrateShard(ctx context.Context, outcome *ShardOutcome, locator string, bucket []shardbench.User) {
	if len(bucket) == 0 {
		return
	}

	phase := fmt.Sprintf("%s shard %d", shardbench.PhaseMigrate, outcome.Index)
	res, err := c.Loader.LoadPhase(ctx, phase, locator, bucket, c.cfg.ChunkSize)
	outcome.Moved = res.Inserted
	outcome.Skipped = res.Skipped
	outcome.Duration = res.Duration
	if err == nil {
		return
	}

	outcome.fail(err)
	c.Log(shardbench.LogError, err, fmt.Sprintf("migrate: shard %d (%s) failed after %d of %d rows", outcome.Index, outcome.Locator, outcome.Moved+outcome.Skipped, outcome.Expected))
	c.Journal.RecordLogErr(c.Logger, shardbench.EvtStoreFailed, &shardbench.StoreFailedData{
		Phase:   shardbench.PhaseMigrate,
		Locator: outcome.Locator,
		Shard:   outcome.Index,
		Error:   err.Error(),
	})
}

func (c *Coordinator) clock() clock.Clock {
	if c.Clock == nil {
		return clock.New()
	}
	return c.Clock
}

// Log will log to the designated logger or the standard logger
func (c *Coordinator) Log(level shardbench.LogLevel, err error, msg string) {
	shardbench.LogTo(c.Logger, level, err, msg)
}
