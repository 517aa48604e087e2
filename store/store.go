package store

import (
	"context"
	"strings"
	"sync"

	"github.com/jonas747/shardbench"
	"github.com/pkg/errors"
)

// Row is a single result row, values in select order
type Row []interface{}

// Conn is an open connection to a single store
type Conn interface {
	// Exec runs a statement that returns no rows and reports the rows affected
	Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error)

	// BulkInsert writes all rows to table in one operation
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error)

	Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error)

	Close() error
}

// Gateway opens connections to stores by locator
type Gateway interface {
	Connect(ctx context.Context, locator string) (Conn, error)
}

var (
	ErrUnknownScheme        = errors.New("no gateway registered for locator scheme")
	ErrUnsupportedStatement = errors.New("statement not supported by this store")
)

// WithConn connects to locator, runs fn and always closes the connection afterwards.
// Connect failures are returned as *shardbench.ConnectionError.
func WithConn(ctx context.Context, gw Gateway, locator string, fn func(Conn) error) (err error) {
	conn, err := gw.Connect(ctx, locator)
	if err != nil {
		if shardbench.IsConnectionError(err) {
			return err
		}
		return &shardbench.ConnectionError{Locator: Redact(locator), Err: err}
	}

	defer func() {
		cerr := conn.Close()
		if err == nil && cerr != nil {
			err = errors.WithMessage(cerr, "close")
		}
	}()

	return fn(conn)
}

// Scheme returns the part of the locator before "://", or before the first ":" for dsn style locators
func Scheme(locator string) string {
	if i := strings.Index(locator, "://"); i > 0 {
		return strings.ToLower(locator[:i])
	}
	if i := strings.Index(locator, ":"); i > 0 {
		return strings.ToLower(locator[:i])
	}
	return ""
}

// Redact strips the password from a url style locator, for logs and reports
func Redact(locator string) string {
	i := strings.Index(locator, "://")
	if i < 0 {
		return locator
	}

	rest := locator[i+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return locator
	}

	creds := rest[:at]
	if c := strings.Index(creds, ":"); c >= 0 {
		creds = creds[:c] + ":xxxxx"
	}

	return locator[:i+3] + creds + rest[at:]
}

// Mux dispatches Connect calls to the gateway registered for the locator scheme
type Mux struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewMux() *Mux {
	return &Mux{
		gateways: make(map[string]Gateway),
	}
}

// Register makes gw handle every locator with the given scheme
func (m *Mux) Register(scheme string, gw Gateway) {
	m.mu.Lock()
	m.gateways[strings.ToLower(scheme)] = gw
	m.mu.Unlock()
}

func (m *Mux) Connect(ctx context.Context, locator string) (Conn, error) {
	scheme := Scheme(locator)

	m.mu.RLock()
	gw, ok := m.gateways[scheme]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.WithMessage(ErrUnknownScheme, scheme)
	}

	return gw.Connect(ctx, locator)
}

// NewStandardGateway returns a Mux serving postgres, sqlite and in memory ("mem://") locators
func NewStandardGateway(mem *MemoryGateway) *Mux {
	if mem == nil {
		mem = NewMemoryGateway()
	}

	pg := &PostgresGateway{}
	lite := &SQLiteGateway{}

	m := NewMux()
	m.Register("postgres", pg)
	m.Register("postgresql", pg)
	m.Register("sqlite", lite)
	m.Register("file", lite)
	m.Register("mem", mem)
	return m
}
