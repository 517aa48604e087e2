package benchmark

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind decides how a template's parameters are generated and how it is routed on the shard layout
type Kind int

const (
	// a single random id, routed to the one shard owning it
	PointLookup Kind = iota
	// two random ids forming an inclusive range, sent to every shard
	RangeScan
	// no parameters, sent to every shard
	Aggregate
)

var kindNames = map[Kind]string{
	PointLookup: "point lookup",
	RangeScan:   "range scan",
	Aggregate:   "aggregate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// QueryTemplate is a statement plus the rule for filling in its parameters.
// Statements use $1, $2 placeholders which postgres and sqlite both accept.
type QueryTemplate struct {
	Name      string
	Statement string
	Kind      Kind
}

// DefaultSuite is the workload run when nothing else is configured
var DefaultSuite = []QueryTemplate{
	{
		Name:      "user by id",
		Statement: "SELECT id, name, email, age, city, created_at FROM users WHERE id = $1",
		Kind:      PointLookup,
	},
	{
		Name:      "users in id range",
		Statement: "SELECT id, name, email, age, city, created_at FROM users WHERE id BETWEEN $1 AND $2",
		Kind:      RangeScan,
	},
	{
		Name:      "users per city",
		Statement: "SELECT city, COUNT(*) FROM users GROUP BY city",
		Kind:      Aggregate,
	},
	{
		Name:      "average age over 30",
		Statement: "SELECT AVG(age) FROM users WHERE age > 30",
		Kind:      Aggregate,
	},
}

// FanOut is how a broadcast query is timed on the shard layout. Partial results are never merged.
type FanOut int

const (
	// one shard after the other, the trial takes the sum of the shard latencies
	FanOutSequential FanOut = iota
	// all shards at once, the trial takes as long as the slowest shard
	FanOutParallel
)

var ErrUnknownFanOut = errors.New("unknown fan out policy")

func (f FanOut) String() string {
	if f == FanOutParallel {
		return "parallel"
	}
	return "sequential"
}

// ParseFanOut accepts "sequential" or "parallel", "" means sequential
func ParseFanOut(s string) (FanOut, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return FanOutSequential, nil
	case "parallel", "par":
		return FanOutParallel, nil
	}
	return FanOutSequential, errors.WithMessage(ErrUnknownFanOut, s)
}
