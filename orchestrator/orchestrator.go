package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/benchmark"
	"github.com/jonas747/shardbench/config"
	"github.com/jonas747/shardbench/generator"
	"github.com/jonas747/shardbench/loader"
	"github.com/jonas747/shardbench/store"
	"github.com/pkg/errors"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrMainFailed    = errors.New("main store failed, nothing left to do")
)

// RunStatus is the final verdict of a run
type RunStatus string

const (
	// every store took part in every phase
	StatusOK RunStatus = "ok"
	// at least one shard failed or benchmark queries errored, the rest completed
	StatusDegraded RunStatus = "degraded"
	// the run stopped early
	StatusFailed RunStatus = "failed"
)

// StoreOutcome is what happened to a single store during check, prepare or clear
type StoreOutcome struct {
	Locator string `json:"locator"`
	// -1 for the main store
	Shard    int           `json:"shard"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// OK also works on outcomes decoded from json, where only Error survives
func (so *StoreOutcome) OK() bool {
	return so.Err == nil && so.Error == ""
}

func (so *StoreOutcome) Name() string {
	if so.Shard < 0 {
		return "main"
	}
	return fmt.Sprintf("shard %d", so.Shard)
}

// GenerateResult is the outcome of generating users into main, and optionally straight onto the shards
type GenerateResult struct {
	Users    int               `json:"users"`
	Main     loader.LoadResult `json:"main"`
	Error    string            `json:"error,omitempty"`
	Direct   *MigrationResult  `json:"direct,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// RunReport is everything a full run did
type RunReport struct {
	RunID     string             `json:"run_id"`
	Status    RunStatus          `json:"status"`
	Checks    []StoreOutcome     `json:"checks"`
	Prepare   []StoreOutcome     `json:"prepare"`
	Clear     []StoreOutcome     `json:"clear"`
	Generate  *GenerateResult    `json:"generate,omitempty"`
	Migration *MigrationResult   `json:"migration,omitempty"`
	Benchmark []benchmark.Result `json:"benchmark"`
	// why the run stopped early, if it did
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (r *RunReport) degrade() {
	if r.Status == StatusOK {
		r.Status = StatusDegraded
	}
}

func (r *RunReport) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
}

// Status is a snapshot of what the orchestrator is doing
type Status struct {
	Running    bool       `json:"running"`
	Phase      string     `json:"phase"`
	RunID      string     `json:"run_id,omitempty"`
	Main       string     `json:"main"`
	Shards     []string   `json:"shards"`
	LastReport *RunReport `json:"last_report,omitempty"`

	// empty unless the monitor is running
	Health []StoreHealth `json:"health,omitempty"`
}

// Orchestrator drives the phases of a run against one main store and a fixed shard set.
// Only one operation runs at a time, the others get ErrRunInProgress.
type Orchestrator struct {
	// these fields are only safe to edit before the first operation

	Gateway   store.Gateway
	Generator generator.Generator
	Logger    shardbench.Logger
	Observer  shardbench.ProgressObserver
	Journal   *shardbench.JournalWriter
	Clock     clock.Clock
	Suite     []benchmark.QueryTemplate

	// chunks recorded as committed by an earlier, interrupted run, they are not written again
	Committed shardbench.ChunkSet

	cfg config.Run

	// below fields are protected by the following mutex
	mu           sync.Mutex
	running      bool
	phase        string
	phaseStarted time.Time
	runID        string
	lastReport   *RunReport
	monitor      *monitor
}

func NewOrchestrator(cfg config.Run, gw store.Gateway) *Orchestrator {
	return &Orchestrator{
		Gateway:   gw,
		Generator: generator.NewRandom(cfg.Seed, nil),
		Clock:     clock.New(),
		Suite:     benchmark.DefaultSuite,
		cfg:       cfg,
		phase:     shardbench.PhaseIdle,
	}
}

// Config returns the configuration the orchestrator was created with
func (o *Orchestrator) Config() config.Run {
	return o.cfg
}

// acquire validates the config and claims the orchestrator for a single operation
func (o *Orchestrator) acquire() error {
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrRunInProgress
	}
	o.running = true
	return nil
}

func (o *Orchestrator) release() {
	o.switchPhase(shardbench.PhaseIdle)

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(phase string) {
	runID, now := o.switchPhase(phase)

	o.Log(shardbench.LogInfo, nil, "phase: "+phase)
	o.Journal.RecordLogErr(o.Logger, shardbench.EvtPhaseStarted, &shardbench.PhaseData{
		RunID: runID,
		Phase: phase,
		At:    now.UnixNano(),
	})
}

// switchPhase moves to phase and records the previous one as finished
func (o *Orchestrator) switchPhase(phase string) (string, time.Time) {
	now := o.clock().Now()

	o.mu.Lock()
	previous, started := o.phase, o.phaseStarted
	o.phase = phase
	o.phaseStarted = now
	runID := o.runID
	o.mu.Unlock()

	if previous != shardbench.PhaseIdle {
		took := now.Sub(started)
		o.Log(shardbench.LogDebug, nil, fmt.Sprintf("phase: %s done in %s", previous, took))
		o.Journal.RecordLogErr(o.Logger, shardbench.EvtPhaseFinished, &shardbench.PhaseData{
			RunID:      runID,
			Phase:      previous,
			At:         now.UnixNano(),
			DurationMs: took.Milliseconds(),
		})
	}

	return runID, now
}

// Status returns the current phase and the report of the last finished run
func (o *Orchestrator) Status() *Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := &Status{
		Running:    o.running,
		Phase:      o.phase,
		RunID:      o.runID,
		Main:       store.Redact(o.cfg.MainLocator),
		Shards:     redactAll(o.cfg.ShardLocators),
		LastReport: o.lastReport,
	}

	if o.monitor != nil {
		status.Health, _ = o.monitor.snapshot()
	}

	return status
}

// LastReport returns the report of the last finished run, nil if there is none
func (o *Orchestrator) LastReport() *RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReport
}

// CheckConnections connects to main and every shard and reports which of them are reachable
func (o *Orchestrator) CheckConnections(ctx context.Context) ([]StoreOutcome, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.checkConnections(ctx), nil
}

// Prepare creates the users table on every store that doesn't have it yet
func (o *Orchestrator) Prepare(ctx context.Context) ([]StoreOutcome, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.prepare(ctx), nil
}

// Clear deletes every user on main and on the shards
func (o *Orchestrator) Clear(ctx context.Context) ([]StoreOutcome, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.clear(ctx), nil
}

// Generate creates the configured number of users and loads them into main.
// With direct set the same users are also written straight to the shards,
// which leaves the shards exactly as a migration would.
func (o *Orchestrator) Generate(ctx context.Context, direct bool) (*GenerateResult, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.generate(ctx, direct)
}

// Migrate copies main onto the shards
func (o *Orchestrator) Migrate(ctx context.Context) (*MigrationResult, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.migrate(ctx)
}

// Benchmark runs the query suite against both layouts
func (o *Orchestrator) Benchmark(ctx context.Context) ([]benchmark.Result, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.benchmark(ctx)
}

// Run does a full run: check, prepare, clear, generate, migrate and benchmark.
// Store failures are recorded in the report and lower its status instead of stopping the run,
// the returned error is only set for configuration errors and ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.run(ctx), nil
}

// Start is Run in the background, the report is available from LastReport once Status says it's no longer running
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.acquire(); err != nil {
		return err
	}

	go func() {
		defer o.release()
		o.run(ctx)
	}()

	return nil
}

func (o *Orchestrator) run(ctx context.Context) *RunReport {
	clk := o.clock()
	report := &RunReport{
		RunID:     uuid.New().String(),
		Status:    StatusOK,
		StartedAt: clk.Now(),
	}

	o.mu.Lock()
	o.runID = report.RunID
	o.mu.Unlock()

	o.Log(shardbench.LogInfo, nil, fmt.Sprintf("starting run %s: %d users, %d shards", report.RunID, o.cfg.Users, len(o.cfg.ShardLocators)))
	o.Journal.RecordLogErr(o.Logger, shardbench.EvtRunStarted, &shardbench.RunStartedData{
		RunID:     report.RunID,
		Main:      store.Redact(o.cfg.MainLocator),
		Shards:    redactAll(o.cfg.ShardLocators),
		Users:     o.cfg.Users,
		BatchSize: o.cfg.BatchSize,
		StartedAt: report.StartedAt.UnixNano(),
	})

	o.runPhases(ctx, report)
	o.switchPhase(shardbench.PhaseIdle)

	report.Duration = clk.Since(report.StartedAt)
	o.Log(shardbench.LogInfo, nil, fmt.Sprintf("run %s finished with status %s in %s", report.RunID, report.Status, report.Duration))
	o.Journal.RecordLogErr(o.Logger, shardbench.EvtRunFinished, &shardbench.RunFinishedData{
		RunID:      report.RunID,
		Status:     string(report.Status),
		DurationMs: report.Duration.Milliseconds(),
	})

	o.mu.Lock()
	o.lastReport = report
	o.mu.Unlock()

	return report
}

func (o *Orchestrator) runPhases(ctx context.Context, report *RunReport) {
	// stops the run if main is unusable, only notes it if a shard is
	checkMain := func(outcomes []StoreOutcome) bool {
		for _, so := range outcomes {
			if so.OK() {
				continue
			}
			if so.Shard < 0 {
				report.fail(errors.WithMessage(so.Err, ErrMainFailed.Error()))
				return false
			}
			report.degrade()
		}
		return true
	}

	report.Checks = o.checkConnections(ctx)
	if !checkMain(report.Checks) {
		return
	}

	report.Prepare = o.prepare(ctx)
	if !checkMain(report.Prepare) {
		return
	}

	report.Clear = o.clear(ctx)
	if !checkMain(report.Clear) {
		return
	}

	gen, err := o.generate(ctx, false)
	report.Generate = gen
	if err != nil {
		report.fail(err)
		return
	}

	mig, err := o.migrate(ctx)
	report.Migration = mig
	if err != nil {
		report.fail(err)
		return
	}
	if len(mig.Failed()) > 0 {
		report.degrade()
	}

	results, err := o.benchmark(ctx)
	report.Benchmark = results
	if err != nil {
		report.fail(err)
		return
	}

	for _, r := range results {
		if r.MainErrors > 0 || r.ShardErrors > 0 {
			report.degrade()
		}
	}
}

type target struct {
	locator string
	shard   int
}

func (o *Orchestrator) targets() []target {
	result := make([]target, 0, len(o.cfg.ShardLocators)+1)
	result = append(result, target{locator: o.cfg.MainLocator, shard: -1})
	for i, s := range o.cfg.ShardLocators {
		result = append(result, target{locator: s, shard: i})
	}
	return result
}

// eachStore runs fn on main and then on every shard, each on its own connection.
// A failing store is recorded and the others still get their turn.
func (o *Orchestrator) eachStore(ctx context.Context, phase string, fn func(conn store.Conn) (int64, error)) []StoreOutcome {
	o.setPhase(phase)

	clk := o.clock()
	targets := o.targets()
	outcomes := make([]StoreOutcome, len(targets))
	started := clk.Now()

	for i, t := range targets {
		outcome := StoreOutcome{Locator: store.Redact(t.locator), Shard: t.shard}
		storeStarted := clk.Now()

		err := ctx.Err()
		if err == nil {
			err = store.WithConn(ctx, o.Gateway, t.locator, func(conn store.Conn) error {
				n, err := fn(conn)
				outcome.Rows = n
				return err
			})
		}
		outcome.Duration = clk.Since(storeStarted)

		if err != nil {
			outcome.Err = err
			outcome.Error = err.Error()
			o.Log(shardbench.LogError, err, fmt.Sprintf("%s: %s (%s) failed", phase, outcome.Name(), outcome.Locator))
			o.Journal.RecordLogErr(o.Logger, shardbench.EvtStoreFailed, &shardbench.StoreFailedData{
				Phase:   phase,
				Locator: outcome.Locator,
				Shard:   t.shard,
				Error:   outcome.Error,
			})
		} else {
			o.Log(shardbench.LogDebug, nil, fmt.Sprintf("%s: %s ok in %s", phase, outcome.Name(), outcome.Duration))
		}

		outcomes[i] = outcome
		shardbench.Notify(o.Observer, phase, i+1, len(targets), clk.Since(started))
	}

	return outcomes
}

func (o *Orchestrator) checkConnections(ctx context.Context) []StoreOutcome {
	return o.eachStore(ctx, shardbench.PhaseCheck, func(conn store.Conn) (int64, error) {
		return 0, nil
	})
}

func (o *Orchestrator) prepare(ctx context.Context) []StoreOutcome {
	return o.eachStore(ctx, shardbench.PhasePrepare, func(conn store.Conn) (int64, error) {
		_, err := conn.Exec(ctx, store.CreateUsersTable)
		return 0, err
	})
}

// clear empties every store. Chunks committed to a cleared store are forgotten,
// both in Committed and, through a StoresCleared event, for later resumes from the journal.
func (o *Orchestrator) clear(ctx context.Context) []StoreOutcome {
	outcomes := o.eachStore(ctx, shardbench.PhaseClear, func(conn store.Conn) (int64, error) {
		return conn.Exec(ctx, store.DeleteUsers)
	})

	// a failed delete may still have removed rows, so every store counts as cleared
	targets := make([]string, len(outcomes))
	for i, so := range outcomes {
		targets[i] = so.Locator
		o.Committed.DropTarget(so.Locator)
	}

	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	o.Journal.RecordLogErr(o.Logger, shardbench.EvtStoresCleared, &shardbench.StoresClearedData{
		RunID:   runID,
		Targets: targets,
		At:      o.clock().Now().UnixNano(),
	})

	return outcomes
}

func (o *Orchestrator) generate(ctx context.Context, direct bool) (*GenerateResult, error) {
	o.setPhase(shardbench.PhaseGenerate)

	clk := o.clock()
	started := clk.Now()

	users := generator.Sequence(o.Generator, o.cfg.Users)
	result := &GenerateResult{Users: len(users)}

	l := o.newLoader()
	mainResult, err := l.LoadPhase(ctx, shardbench.PhaseGenerate, o.cfg.MainLocator, users, o.cfg.BatchSize)
	result.Main = mainResult
	if err != nil {
		result.Error = err.Error()
		o.Journal.RecordLogErr(o.Logger, shardbench.EvtStoreFailed, &shardbench.StoreFailedData{
			Phase:   shardbench.PhaseGenerate,
			Locator: mainResult.Target,
			Shard:   -1,
			Error:   result.Error,
		})
	}

	// the shards don't depend on main here, so they are written even if main failed
	if direct {
		result.Direct, err = o.newCoordinator().Distribute(ctx, users, o.cfg.ShardLocators)
		if err != nil {
			result.Duration = clk.Since(started)
			return result, err
		}
	}

	result.Duration = clk.Since(started)
	if result.Error != "" {
		return result, errors.WithMessage(ErrMainFailed, result.Error)
	}

	o.Log(shardbench.LogInfo, nil, fmt.Sprintf("generate: %d users in %s", result.Users, result.Duration))
	return result, nil
}

func (o *Orchestrator) migrate(ctx context.Context) (*MigrationResult, error) {
	o.setPhase(shardbench.PhaseMigrate)
	return o.newCoordinator().Migrate(ctx, o.cfg.MainLocator, o.cfg.ShardLocators)
}

func (o *Orchestrator) benchmark(ctx context.Context) ([]benchmark.Result, error) {
	o.setPhase(shardbench.PhaseBenchmark)

	cfg, err := o.cfg.Benchmark()
	if err != nil {
		return nil, err
	}

	h := benchmark.NewHarness(cfg, o.Gateway)
	h.Observer = o.Observer
	h.Logger = o.Logger
	h.Clock = o.clock()

	suite := o.Suite
	if len(suite) == 0 {
		suite = benchmark.DefaultSuite
	}

	results, err := h.Run(ctx, o.cfg.MainLocator, o.cfg.ShardLocators, suite)
	for _, r := range results {
		o.Journal.RecordLogErr(o.Logger, shardbench.EvtBenchmarkResult, &shardbench.BenchmarkResultData{
			Template:    r.Template,
			Kind:        r.Kind,
			Iterations:  r.Iterations,
			MainAvgMs:   r.MainAvgMs,
			ShardAvgMs:  r.ShardAvgMs,
			Winner:      string(r.Winner),
			MainErrors:  r.MainErrors,
			ShardErrors: r.ShardErrors,
		})
	}

	return results, err
}

func (o *Orchestrator) newLoader() *loader.Loader {
	l := loader.New(o.Gateway)
	l.Observer = o.Observer
	l.Logger = o.Logger
	l.Clock = o.clock()
	l.Journal = o.Journal
	l.Committed = o.Committed
	return l
}

func (o *Orchestrator) newCoordinator() *Coordinator {
	c := NewCoordinator(MigrateConfigFrom(o.cfg), o.Gateway, o.newLoader())
	c.Logger = o.Logger
	c.Journal = o.Journal
	c.Clock = o.clock()
	return c
}

// MigrateConfigFrom picks the migration settings out of a run configuration
func MigrateConfigFrom(cfg config.Run) MigrateConfig {
	return MigrateConfig{
		ChunkSize: cfg.MigrationChunkSize,
		Parallel:  cfg.ParallelMigration,
	}
}

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		return clock.New()
	}
	return o.Clock
}

// Log will log to the designated logger or the standard logger
func (o *Orchestrator) Log(level shardbench.LogLevel, err error, msg string) {
	shardbench.LogTo(o.Logger, level, err, msg)
}

func redactAll(locators []string) []string {
	result := make([]string, len(locators))
	for i, l := range locators {
		result[i] = store.Redact(l)
	}
	return result
}
