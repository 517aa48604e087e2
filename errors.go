package shardbench

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidShardCount = errors.New("shard count must be at least 1")
	ErrNoShards          = errors.New("no shard locators configured")
	ErrNoMainLocator     = errors.New("no main store locator configured")
	ErrInvalidUserCount  = errors.New("user count must be positive")
	ErrInvalidBatchSize  = errors.New("batch size must be at least 1")
	ErrInvalidIterations = errors.New("iteration count must be at least 1")
)

// ConfigurationError is fatal and is always returned before any store is touched
type ConfigurationError struct {
	Op  string
	Err error
}

func NewConfigurationError(err error, op string) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration (%s): %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError means a store could not be reached. Callers record it and carry on with the other stores.
type ConnectionError struct {
	Locator string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Locator, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError is a partial batch load failure. Committed rows stay committed.
type WriteError struct {
	Target    string
	Chunk     int
	Committed int
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: chunk %d failed after %d committed rows: %v", e.Target, e.Chunk, e.Committed, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// QueryError is a failed benchmark trial
type QueryError struct {
	Locator  string
	Template string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q on %s: %v", e.Template, e.Locator, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return stderrors.As(err, &target)
}

func IsConnectionError(err error) bool {
	var target *ConnectionError
	return stderrors.As(err, &target)
}

func IsWriteError(err error) bool {
	var target *WriteError
	return stderrors.As(err, &target)
}

// ErrorString is err.Error() or "" for nil, for summaries and wire structs
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
