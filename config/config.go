// Package config holds the settings of a single run. A Run is built once, validated,
// and handed to the constructors that need it; nothing reads the environment after that.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/benchmark"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Environment variables the command line flags are bound to
const (
	EnvMainLocator        = "MAINDB_URL"
	EnvShardLocators      = "SHARD_URLS"
	EnvUsers              = "MAX_GEN_USERS"
	EnvBatchSize          = "BATCH_SIZE"
	EnvMigrationChunkSize = "MIGRATION_CHUNK_SIZE"
	EnvIterations         = "BENCH_ITERATIONS"
	EnvFanOut             = "BENCH_FAN_OUT"
	EnvParallelMigration  = "PARALLEL_MIGRATION"
	EnvSeed               = "SEED"
	EnvJournalPath        = "JOURNAL_PATH"
	EnvDebug              = "DEBUG"
)

const (
	DefaultUsers              = 1000
	DefaultBatchSize          = 10000
	DefaultMigrationChunkSize = 1000
)

var (
	ErrInvalidChunkSize = errors.New("migration chunk size must be at least 1")
	ErrInvalidPort      = errors.New("invalid port")
)

// Run is the configuration of one run
type Run struct {
	MainLocator   string   `json:"main"`
	ShardLocators []string `json:"shards"`

	Users              int `json:"users"`
	BatchSize          int `json:"batch_size"`
	MigrationChunkSize int `json:"migration_chunk_size"`
	Iterations         int `json:"iterations"`

	// "sequential" or "parallel"
	FanOut            string `json:"fan_out"`
	ParallelMigration bool   `json:"parallel_migration"`
	Seed              int64  `json:"seed"`

	// empty disables the journal
	JournalPath string `json:"journal_path,omitempty"`
	Debug       bool   `json:"debug"`
}

func Default() Run {
	return Run{
		Users:              DefaultUsers,
		BatchSize:          DefaultBatchSize,
		MigrationChunkSize: DefaultMigrationChunkSize,
		Iterations:         benchmark.DefaultIterations,
		FanOut:             benchmark.FanOutSequential.String(),
		Seed:               1,
	}
}

// Validate returns a *shardbench.ConfigurationError describing the first problem found
func (r *Run) Validate() error {
	var err error
	switch {
	case strings.TrimSpace(r.MainLocator) == "":
		err = shardbench.ErrNoMainLocator
	case len(r.ShardLocators) == 0:
		err = shardbench.ErrNoShards
	case r.Users < 1:
		err = shardbench.ErrInvalidUserCount
	case r.BatchSize < 1:
		err = shardbench.ErrInvalidBatchSize
	case r.MigrationChunkSize < 1:
		err = ErrInvalidChunkSize
	case r.Iterations < 1:
		err = shardbench.ErrInvalidIterations
	}

	if err == nil {
		for i, s := range r.ShardLocators {
			if strings.TrimSpace(s) == "" {
				err = errors.Errorf("shard %d has an empty locator", i)
				break
			}
		}
	}

	if err == nil {
		_, err = benchmark.ParseFanOut(r.FanOut)
	}

	if err != nil {
		return shardbench.NewConfigurationError(err, "config")
	}
	return nil
}

// Benchmark returns the harness configuration, ids are drawn from the generated range
func (r *Run) Benchmark() (benchmark.Config, error) {
	fanOut, err := benchmark.ParseFanOut(r.FanOut)
	if err != nil {
		return benchmark.Config{}, shardbench.NewConfigurationError(err, "config")
	}

	return benchmark.Config{
		Iterations: r.Iterations,
		MaxID:      int64(r.Users),
		FanOut:     fanOut,
		Seed:       r.Seed,
	}, nil
}

// LogLevel is the level the standard logger should run at
func (r *Run) LogLevel() shardbench.LogLevel {
	if r.Debug {
		return shardbench.LogDebug
	}
	return shardbench.LogInfo
}

// ParseShardList splits a comma or whitespace separated list of locators, in order
func ParseShardList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})

	var result []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			result = append(result, f)
		}
	}
	return result
}

// LegacyLocators builds postgres locators from the older per database variables
// (DB_HOST, DB_USER, DB_PASSWORD, MAIN_DB_PORT, MAIN_DB_NAME, EVEN_USER_ID_DB_*, ODD_USER_ID_DB_*).
// The even database becomes shard 0 and the odd one shard 1, which is what id mod 2 gives.
// ok is false if the variables aren't set.
func LegacyLocators(lookup func(string) (string, bool)) (main string, shards []string, ok bool, err error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	host := get("DB_HOST")
	if host == "" || get("MAIN_DB_NAME") == "" {
		return "", nil, false, nil
	}

	var user *url.Userinfo
	if u := get("DB_USER"); u != "" {
		if p, set := lookup("DB_PASSWORD"); set {
			user = url.UserPassword(u, p)
		} else {
			user = url.User(u)
		}
	}

	build := func(prefix string) (string, error) {
		name := get(prefix + "_NAME")
		if name == "" {
			return "", errors.Errorf("%s_NAME is not set", prefix)
		}

		hostPort := host
		if p := get(prefix + "_PORT"); p != "" {
			port, err := cast.ToIntE(p)
			if err != nil || port < 1 || port > 65535 {
				return "", errors.WithMessage(ErrInvalidPort, fmt.Sprintf("%s_PORT=%q", prefix, p))
			}
			hostPort = fmt.Sprintf("%s:%d", host, port)
		}

		u := url.URL{Scheme: "postgres", User: user, Host: hostPort, Path: "/" + name}
		return u.String(), nil
	}

	main, err = build("MAIN_DB")
	if err != nil {
		return "", nil, true, shardbench.NewConfigurationError(err, "legacy env")
	}

	for _, prefix := range []string{"EVEN_USER_ID_DB", "ODD_USER_ID_DB"} {
		s, err := build(prefix)
		if err != nil {
			return "", nil, true, shardbench.NewConfigurationError(err, "legacy env")
		}
		shards = append(shards, s)
	}

	return main, shards, true, nil
}

// ParseBool accepts the usual spellings ("1", "true", "yes", "on"), anything unparsable is false
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true
	}
	return cast.ToBool(strings.TrimSpace(s))
}
