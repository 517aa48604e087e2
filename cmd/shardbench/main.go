package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonas747/shardbench/benchmark"
	"github.com/jonas747/shardbench/config"
	"github.com/jonas747/shardbench/orchestrator"
	"github.com/jonas747/shardbench/orchestrator/rest"
	"github.com/jonas747/shardbench/report"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var console = NewConsole(os.Stdout)

func main() {
	// the .env file is optional, flags and the real environment work without it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("failed loading .env")
	}

	app := cli.NewApp()

	app.Name = "shardbench"
	app.Usage = "compare query latency on a single database against the same data sharded by id"
	app.Description = "shardbench generates users into a main database, migrates them onto shards with id mod N and benchmarks both layouts"

	defaults := config.Default()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "main",
			Usage:  "locator of the main store (postgres://, sqlite:// or mem://)",
			EnvVar: config.EnvMainLocator,
		},
		cli.StringFlag{
			Name:   "shards",
			Usage:  "comma separated shard locators, in shard order",
			EnvVar: config.EnvShardLocators,
		},
		cli.IntFlag{
			Name:   "users",
			Value:  defaults.Users,
			EnvVar: config.EnvUsers,
		},
		cli.IntFlag{
			Name:   "batch-size",
			Usage:  "users per insert when generating",
			Value:  defaults.BatchSize,
			EnvVar: config.EnvBatchSize,
		},
		cli.IntFlag{
			Name:   "chunk-size",
			Usage:  "users per insert when migrating",
			Value:  defaults.MigrationChunkSize,
			EnvVar: config.EnvMigrationChunkSize,
		},
		cli.IntFlag{
			Name:   "iterations",
			Usage:  "benchmark trials per query and layout",
			Value:  defaults.Iterations,
			EnvVar: config.EnvIterations,
		},
		cli.StringFlag{
			Name:   "fan-out",
			Usage:  "how broadcast queries are timed on the shards: sequential or parallel",
			Value:  defaults.FanOut,
			EnvVar: config.EnvFanOut,
		},
		cli.BoolFlag{
			Name:   "parallel-migration",
			Usage:  "migrate all shards at once",
			EnvVar: config.EnvParallelMigration,
		},
		cli.Int64Flag{
			Name:   "seed",
			Value:  defaults.Seed,
			EnvVar: config.EnvSeed,
		},
		cli.StringFlag{
			Name:   "journal",
			Usage:  "append run events to this file",
			EnvVar: config.EnvJournalPath,
		},
		cli.BoolFlag{
			// DEBUG is read separately so values like "yes" work too
			Name: "debug",
		},
	}

	app.Commands = []cli.Command{
		cli.Command{
			Name:   "check",
			Usage:  "check that every store is reachable",
			Action: withOrchestrator(CheckCmd),
		},
		cli.Command{
			Name:   "prepare",
			Usage:  "create the users table on every store",
			Action: withOrchestrator(PrepareCmd),
		},
		cli.Command{
			Name:   "clear",
			Usage:  "delete all users on every store",
			Action: withOrchestrator(ClearCmd),
		},
		cli.Command{
			Name:  "generate",
			Usage: "generate users into the main store",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "direct",
					Usage: "also write the users straight to their shards",
				},
				cli.BoolFlag{
					Name:  "resume",
					Usage: "skip chunks the journal recorded as committed",
				},
			},
			Action: withOrchestrator(GenerateCmd),
		},
		cli.Command{
			Name:  "migrate",
			Usage: "copy the main store onto the shards",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "resume",
					Usage: "skip chunks the journal recorded as committed",
				},
			},
			Action: withOrchestrator(MigrateCmd),
		},
		cli.Command{
			Name:   "benchmark",
			Usage:  "run the query suite against both layouts",
			Action: withOrchestrator(BenchmarkCmd),
		},
		cli.Command{
			Name:   "run",
			Usage:  "check, prepare, clear, generate, migrate and benchmark",
			Action: withOrchestrator(RunCmd),
		},
		cli.Command{
			Name:  "serve",
			Usage: "serve the rest api",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "addr",
					Value:  "127.0.0.1:7448",
					EnvVar: "SHARDBENCH_ADDR",
				},
				cli.DurationFlag{
					Name:  "monitor-interval",
					Usage: "how often idle stores are probed, 0 disables it",
					Value: orchestrator.DefaultMonitorInterval,
				},
			},
			Action: withOrchestrator(ServeCmd),
		},
		cli.Command{
			Name:      "report",
			Usage:     "show what a journal recorded",
			ArgsUsage: "<journal>",
			Action:    ReportCmd,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logrus.WithError(err).Fatal("shardbench failed")
	}
}

// configFromContext builds the run configuration from the global flags,
// falling back to the DB_HOST style variables when no locators were given
func configFromContext(c *cli.Context) (config.Run, error) {
	cfg := config.Default()
	cfg.MainLocator = c.GlobalString("main")
	cfg.ShardLocators = config.ParseShardList(c.GlobalString("shards"))
	cfg.Users = c.GlobalInt("users")
	cfg.BatchSize = c.GlobalInt("batch-size")
	cfg.MigrationChunkSize = c.GlobalInt("chunk-size")
	cfg.Iterations = c.GlobalInt("iterations")
	cfg.FanOut = c.GlobalString("fan-out")
	cfg.ParallelMigration = c.GlobalBool("parallel-migration")
	cfg.Seed = c.GlobalInt64("seed")
	cfg.JournalPath = c.GlobalString("journal")
	cfg.Debug = c.GlobalBool("debug") || config.ParseBool(os.Getenv(config.EnvDebug))

	if cfg.MainLocator == "" && len(cfg.ShardLocators) == 0 {
		mainLoc, shards, ok, err := config.LegacyLocators(os.LookupEnv)
		if err != nil {
			return cfg, err
		}
		if ok {
			cfg.MainLocator, cfg.ShardLocators = mainLoc, shards
		}
	}

	return cfg, cfg.Validate()
}

type orchestratorCmd func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error

func withOrchestrator(fn orchestratorCmd) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := configFromContext(c)
		if err != nil {
			return err
		}

		if cfg.Debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		o, err := orchestrator.NewStandardOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer o.Journal.Close()
		o.Observer = console

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return fn(ctx, c, o)
	}
}

func CheckCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	console.Header("Connection check")
	outcomes, err := o.CheckConnections(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Stores(outcomes))
	return storesSummary("reachable", outcomes)
}

func PrepareCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	console.Header("Preparing schema")
	outcomes, err := o.Prepare(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Stores(outcomes))
	return storesSummary("prepared", outcomes)
}

func ClearCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	console.Header("Clearing data")
	outcomes, err := o.Clear(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Stores(outcomes))
	return storesSummary("cleared", outcomes)
}

func storesSummary(verb string, outcomes []orchestrator.StoreOutcome) error {
	failed := 0
	for i := range outcomes {
		if !outcomes[i].OK() {
			failed++
		}
	}

	if failed > 0 {
		console.Warn(fmt.Sprintf("%d of %d stores failed", failed, len(outcomes)))
		return errors.Errorf("%d stores failed", failed)
	}

	console.Success(fmt.Sprintf("all %d stores %s", len(outcomes), verb))
	return nil
}

func resume(c *cli.Context, o *orchestrator.Orchestrator) error {
	if !c.Bool("resume") {
		return nil
	}

	path := o.Config().JournalPath
	if path == "" {
		return errors.New("--resume needs --journal")
	}

	n, err := o.LoadCommittedChunks(path)
	if err != nil {
		return err
	}

	console.Info(fmt.Sprintf("resuming, %d chunks already committed", n))
	return nil
}

func GenerateCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	if err := resume(c, o); err != nil {
		return err
	}

	console.Header(fmt.Sprintf("Generating %d users", o.Config().Users))
	res, err := o.Generate(ctx, c.Bool("direct"))
	if res != nil {
		console.Print(report.Generate(res))
	}
	if err != nil {
		return err
	}

	console.Success(fmt.Sprintf("generated %d users in %s", res.Users, report.Duration(res.Duration)))
	return nil
}

func MigrateCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	if err := resume(c, o); err != nil {
		return err
	}

	console.Header("Migrating to shards")
	res, err := o.Migrate(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Migration(res))
	if failed := res.Failed(); len(failed) > 0 {
		console.Warn(fmt.Sprintf("shards %v failed, rerun with --resume to finish them", failed))
		return res.Err()
	}

	if skipped := res.Skipped(); skipped > 0 {
		console.Info(fmt.Sprintf("%d users were already on their shards and skipped", skipped))
	}
	console.Success(fmt.Sprintf("moved %d users", res.Moved()))
	return nil
}

func BenchmarkCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	console.Header("Benchmarking")
	results, err := o.Benchmark(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Benchmark(benchmark.Sorted(results)))
	return nil
}

func RunCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	console.Header("Database Sharding Benchmark")
	r, err := o.Run(ctx)
	if err != nil {
		return err
	}

	console.Print(report.Run(r))

	switch r.Status {
	case orchestrator.StatusOK:
		console.Success("Done!")
	case orchestrator.StatusDegraded:
		console.Warn("finished, but some stores failed, see above")
	default:
		console.Error("run failed: " + r.Error)
		return errors.New(r.Error)
	}

	console.Info("Check the results above to see which approach performs better")
	return nil
}

func ServeCmd(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
	// progress bars would interleave with the request logs
	o.Observer = nil

	if interval := c.Duration("monitor-interval"); interval > 0 {
		o.StartMonitor(interval)
		defer o.StopMonitor()
	}

	api := rest.NewRESTAPI(ctx, o, c.String("addr"))

	errChan := make(chan error, 1)
	go func() {
		errChan <- api.Run()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return api.Stop(shutdownCtx)
}

func ReportCmd(c *cli.Context) error {
	args := c.Args()
	if len(args) < 1 || args[0] == "" {
		return errors.New("no journal specified")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errors.WithMessage(err, "os.Open")
	}
	defer f.Close()

	out, err := report.Journal(f)
	fmt.Println(out)
	return err
}
