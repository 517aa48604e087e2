package orchestrator

import (
	"os"

	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/config"
	"github.com/jonas747/shardbench/store"
	"github.com/pkg/errors"
)

// NewStandardOrchestrator returns an orchestrator on the standard gateway (postgres, sqlite and mem:// locators),
// logging through a StdLogger at the configured level and journaling to cfg.JournalPath if set.
// The caller should Close the journal once done.
func NewStandardOrchestrator(cfg config.Run) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := NewOrchestrator(cfg, store.NewStandardGateway(nil))
	o.Logger = &shardbench.StdLogger{Level: cfg.LogLevel()}

	if cfg.JournalPath != "" {
		j, err := shardbench.OpenJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		o.Journal = j
	}

	return o, nil
}

// LoadCommittedChunks reads the journal at path and makes the orchestrator skip
// every chunk it recorded as committed. A missing journal is not an error.
func (o *Orchestrator) LoadCommittedChunks(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.WithMessage(err, "os.Open")
	}
	defer f.Close()

	set, err := shardbench.CommittedChunks(f)
	if err != nil && err != shardbench.ErrTruncatedJournal {
		return 0, err
	}

	// a journal cut short by a crash still has its complete events
	if err == shardbench.ErrTruncatedJournal {
		o.Log(shardbench.LogWarning, err, "resume: ignoring the incomplete last event")
	}

	o.Committed = set
	return len(set), nil
}
