package shardbench

type RunStartedData struct {
	RunID     string
	Main      string
	Shards    []string
	Users     int
	BatchSize int
	StartedAt int64
}

type PhaseData struct {
	RunID string
	Phase string
	// unix nanoseconds
	At int64
	// only set on PhaseFinished
	DurationMs int64
}

type ChunkCommittedData struct {
	Target  string
	FirstID int64
	LastID  int64
	Rows    int
}

type StoreFailedData struct {
	Phase   string
	Locator string
	// -1 for the main store
	Shard int
	Error string
}

type BenchmarkResultData struct {
	Template    string
	Kind        string
	Iterations  int
	MainAvgMs   float64
	ShardAvgMs  float64
	Winner      string
	MainErrors  int
	ShardErrors int
}

type RunFinishedData struct {
	RunID      string
	Status     string
	DurationMs int64
}

type StoresClearedData struct {
	RunID string
	// redacted locators, the same form chunks are recorded with
	Targets []string
	At      int64
}
