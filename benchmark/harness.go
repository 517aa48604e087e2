// Package benchmark times the same query workload against the main store and the shard set
package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/store"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const DefaultIterations = 10

// Layout names one of the two data layouts being compared
type Layout string

const (
	LayoutMain   Layout = "main"
	LayoutShards Layout = "shards"
	LayoutTie    Layout = "tie"
)

// Config is fixed for the lifetime of a Harness
type Config struct {
	// trials per template and layout
	Iterations int
	// parameters are drawn from ids 1..MaxID
	MaxID  int64
	FanOut FanOut
	Seed   int64
}

func DefaultConfig() Config {
	return Config{
		Iterations: DefaultIterations,
		Seed:       1,
	}
}

func (c Config) validate(shardCount int) error {
	switch {
	case shardCount < 1:
		return shardbench.NewConfigurationError(shardbench.ErrNoShards, "benchmark")
	case c.Iterations < 1:
		return shardbench.NewConfigurationError(shardbench.ErrInvalidIterations, "benchmark")
	case c.MaxID < 1:
		return shardbench.NewConfigurationError(shardbench.ErrInvalidUserCount, "benchmark")
	}
	return nil
}

// Trial is a single timed execution of a template on one layout
type Trial struct {
	Elapsed time.Duration
	Rows    int
	// set when the query failed, the trial then counts as an empty result
	Err error
}

// Result compares the two layouts for one template
type Result struct {
	Template    string  `json:"template"`
	Kind        string  `json:"kind"`
	Iterations  int     `json:"iterations"`
	MainAvgMs   float64 `json:"main_avg_ms"`
	ShardAvgMs  float64 `json:"shard_avg_ms"`
	Winner      Layout  `json:"winner"`
	MainErrors  int     `json:"main_errors"`
	ShardErrors int     `json:"shard_errors"`
	LastError   string  `json:"last_error,omitempty"`
}

// Speedup is how many times faster the shard layout was, 0 if it can't be computed
func (r *Result) Speedup() float64 {
	if r.ShardAvgMs <= 0 {
		return 0
	}
	return r.MainAvgMs / r.ShardAvgMs
}

// Harness runs query templates against both layouts
type Harness struct {
	Gateway  store.Gateway
	Observer shardbench.ProgressObserver
	Logger   shardbench.Logger
	Clock    clock.Clock

	cfg Config

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewHarness(cfg Config, gw store.Gateway) *Harness {
	return &Harness{
		Gateway: gw,
		Clock:   clock.New(),
		cfg:     cfg,
		rand:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run executes every template Iterations times on main and on the shards, with the same
// parameters for both layouts in a trial. Failed queries are counted and timed, they never stop the suite.
func (h *Harness) Run(ctx context.Context, main string, shards []string, suite []QueryTemplate) ([]Result, error) {
	if err := h.cfg.validate(len(shards)); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(suite))
	for _, t := range suite {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results = append(results, h.runTemplate(ctx, main, shards, t))
	}

	return results, nil
}

func (h *Harness) runTemplate(ctx context.Context, main string, shards []string, t QueryTemplate) Result {
	result := Result{
		Template:   t.Name,
		Kind:       t.Kind.String(),
		Iterations: h.cfg.Iterations,
	}

	var mainTotal, shardTotal time.Duration
	var lastErr error
	started := h.clock().Now()
	phase := fmt.Sprintf("%s %s", shardbench.PhaseBenchmark, t.Name)

	for i := 0; i < h.cfg.Iterations; i++ {
		params := h.Params(t)

		mt := h.TrialMain(ctx, main, t, params)
		mainTotal += mt.Elapsed
		if mt.Err != nil {
			result.MainErrors++
			lastErr = mt.Err
		}

		st := h.TrialShards(ctx, shards, t, params)
		shardTotal += st.Elapsed
		if st.Err != nil {
			result.ShardErrors++
			lastErr = st.Err
		}

		shardbench.Notify(h.Observer, phase, i+1, h.cfg.Iterations, h.clock().Since(started))
	}

	result.MainAvgMs = averageMs(mainTotal, h.cfg.Iterations)
	result.ShardAvgMs = averageMs(shardTotal, h.cfg.Iterations)
	result.Winner = winner(result.MainAvgMs, result.ShardAvgMs)

	if lastErr != nil {
		result.LastError = lastErr.Error()
		shardbench.LogTo(h.Logger, shardbench.LogWarning, lastErr, fmt.Sprintf("benchmark: %q had %d main and %d shard errors", t.Name, result.MainErrors, result.ShardErrors))
	}

	return result
}

// Params draws the parameters for one trial of t
func (h *Harness) Params(t QueryTemplate) []interface{} {
	h.randMu.Lock()
	defer h.randMu.Unlock()

	switch t.Kind {
	case PointLookup:
		return []interface{}{h.randomID()}
	case RangeScan:
		lo, hi := h.randomID(), h.randomID()
		if lo > hi {
			lo, hi = hi, lo
		}
		return []interface{}{lo, hi}
	}

	return nil
}

func (h *Harness) randomID() int64 {
	return 1 + h.rand.Int63n(h.cfg.MaxID)
}

// TrialMain times t on the main store
func (h *Harness) TrialMain(ctx context.Context, main string, t QueryTemplate, params []interface{}) Trial {
	clk := h.clock()
	started := clk.Now()
	rows, err := h.query(ctx, main, t, params)
	return Trial{Elapsed: clk.Since(started), Rows: rows, Err: err}
}

// TrialShards times t on the shard layout, routed with Route
func (h *Harness) TrialShards(ctx context.Context, shards []string, t QueryTemplate, params []interface{}) Trial {
	targets, err := Route(t, params, len(shards))
	if err != nil {
		return Trial{Err: err}
	}

	clk := h.clock()
	started := clk.Now()

	counts := make([]int, len(targets))
	errs := make([]error, len(targets))

	if h.cfg.FanOut == FanOutParallel && len(targets) > 1 {
		var g errgroup.Group
		for i, idx := range targets {
			i, idx := i, idx
			g.Go(func() error {
				counts[i], errs[i] = h.query(ctx, shards[idx], t, params)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, idx := range targets {
			counts[i], errs[i] = h.query(ctx, shards[idx], t, params)
		}
	}

	trial := Trial{Elapsed: clk.Since(started)}
	for i := range targets {
		trial.Rows += counts[i]
	}
	trial.Err = multierr.Combine(errs...)
	return trial
}

// Route returns the indexes of the shards a trial of t is sent to.
// Point lookups go to the single owning shard, everything else to all of them.
func Route(t QueryTemplate, params []interface{}, shardCount int) ([]int, error) {
	if t.Kind == PointLookup {
		if len(params) != 1 {
			return nil, errors.Errorf("point lookup %q needs exactly one parameter, got %d", t.Name, len(params))
		}

		id, ok := params[0].(int64)
		if !ok {
			return nil, errors.Errorf("point lookup %q parameter is %T, not int64", t.Name, params[0])
		}

		idx, err := shardbench.Resolve(id, shardCount)
		if err != nil {
			return nil, err
		}
		return []int{idx}, nil
	}

	if shardCount < 1 {
		return nil, shardbench.NewConfigurationError(shardbench.ErrInvalidShardCount, "route")
	}

	all := make([]int, shardCount)
	for i := range all {
		all[i] = i
	}
	return all, nil
}

func (h *Harness) query(ctx context.Context, locator string, t QueryTemplate, params []interface{}) (int, error) {
	var n int
	err := store.WithConn(ctx, h.Gateway, locator, func(conn store.Conn) error {
		rows, err := conn.Query(ctx, t.Statement, params...)
		n = len(rows)
		return err
	})
	if err != nil {
		return 0, &shardbench.QueryError{Locator: store.Redact(locator), Template: t.Name, Err: err}
	}
	return n, nil
}

func (h *Harness) clock() clock.Clock {
	if h.Clock == nil {
		return clock.New()
	}
	return h.Clock
}

func averageMs(total time.Duration, n int) float64 {
	if n < 1 {
		return 0
	}
	return float64(total) / float64(n) / float64(time.Millisecond)
}

func winner(mainMs, shardMs float64) Layout {
	switch {
	case mainMs < shardMs:
		return LayoutMain
	case shardMs < mainMs:
		return LayoutShards
	}
	return LayoutTie
}

// Winners counts how many templates each layout won
func Winners(results []Result) map[Layout]int {
	counts := make(map[Layout]int)
	for _, r := range results {
		counts[r.Winner]++
	}
	return counts
}

// Sorted returns results ordered by speedup, biggest win for the shards first
func Sorted(results []Result) []Result {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Speedup() > sorted[j].Speedup()
	})
	return sorted
}
