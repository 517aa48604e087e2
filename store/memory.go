package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var (
	ErrUnreachable     = errors.New("store unreachable")
	ErrDuplicateKey    = errors.New("duplicate key value violates unique constraint")
	ErrInjectedFailure = errors.New("injected insert failure")
	ErrUnknownTable    = errors.New("unknown table")
)

// MemoryGateway serves "mem://name" locators from process memory.
// Stores are created on first use and live as long as the gateway.
type MemoryGateway struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		stores: make(map[string]*MemoryStore),
	}
}

// Store returns the store behind locator, creating it if needed
func (g *MemoryGateway) Store(locator string) *MemoryStore {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.stores[locator]
	if !ok {
		s = NewMemoryStore()
		g.stores[locator] = s
	}
	return s
}

func (g *MemoryGateway) Connect(ctx context.Context, locator string) (Conn, error) {
	s := g.Store(locator)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreachable {
		return nil, ErrUnreachable
	}

	s.opened++
	return &memoryConn{store: s}, nil
}

// QueryCall is a query the store received
type QueryCall struct {
	Stmt string
	Args []interface{}
}

// MemoryStore holds the users table of one in memory store, plus knobs to make it misbehave
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[int64]Row

	unreachable      bool
	failInsertsAfter int
	inserts          int
	queryErr         error
	queryHook        func(stmt string, args []interface{}) ([]Row, error)

	queries []QueryCall
	opened  int
	closed  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:             make(map[int64]Row),
		failInsertsAfter: -1,
	}
}

// SetUnreachable makes every following Connect fail
func (s *MemoryStore) SetUnreachable(unreachable bool) {
	s.mu.Lock()
	s.unreachable = unreachable
	s.mu.Unlock()
}

// FailInsertsAfter lets n more bulk inserts succeed and fails every one after that, n < 0 disables it
func (s *MemoryStore) FailInsertsAfter(n int) {
	s.mu.Lock()
	s.failInsertsAfter = n
	s.inserts = 0
	s.mu.Unlock()
}

// FailQueries makes every query return err, nil restores normal behaviour
func (s *MemoryStore) FailQueries(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

// SetQueryHook answers every query that isn't one of the users table statements
func (s *MemoryStore) SetQueryHook(hook func(stmt string, args []interface{}) ([]Row, error)) {
	s.mu.Lock()
	s.queryHook = hook
	s.mu.Unlock()
}

// Queries returns a copy of every query received so far
func (s *MemoryStore) Queries() []QueryCall {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]QueryCall, len(s.queries))
	copy(result, s.queries)
	return result
}

// IDs returns the ids of all stored users, sorted
func (s *MemoryStore) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedIDs()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rows)
}

// Connections returns how many connections were opened and closed
func (s *MemoryStore) Connections() (opened, closed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.opened, s.closed
}

func (s *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type memoryConn struct {
	store *MemoryStore
}

func (c *memoryConn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	switch stmt {
	case CreateUsersTable:
		return 0, nil
	case DeleteUsers:
		n := int64(len(s.rows))
		s.rows = make(map[int64]Row)
		return n, nil
	}

	return 0, ErrUnsupportedStatement
}

// BulkInsert is all or nothing, like a single COPY or transaction would be
func (c *memoryConn) BulkInsert(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
	if table != UsersTable {
		return 0, errors.WithMessage(ErrUnknownTable, table)
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsertsAfter >= 0 && s.inserts >= s.failInsertsAfter {
		return 0, ErrInjectedFailure
	}
	s.inserts++

	ids := make([]int64, len(rows))
	seen := make(map[int64]bool, len(rows))
	for i, r := range rows {
		if len(r) != len(columns) {
			return 0, errors.Errorf("row has %d values for %d columns", len(r), len(columns))
		}

		id, err := cast.ToInt64E(r[0])
		if err != nil {
			return 0, errors.WithMessage(err, "id")
		}

		if _, ok := s.rows[id]; ok || seen[id] {
			return 0, errors.WithMessagef(ErrDuplicateKey, "id %d", id)
		}
		seen[id] = true
		ids[i] = id
	}

	for i, r := range rows {
		stored := make(Row, len(r))
		copy(stored, r)
		s.rows[ids[i]] = stored
	}

	return int64(len(rows)), nil
}

func (c *memoryConn) Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error) {
	s := c.store
	s.mu.Lock()
	s.queries = append(s.queries, QueryCall{Stmt: stmt, Args: args})
	queryErr := s.queryErr
	hook := s.queryHook

	switch {
	case queryErr != nil:
		s.mu.Unlock()
		return nil, queryErr
	case stmt == SelectUsers:
		ids := s.sortedIDs()
		result := make([]Row, len(ids))
		for i, id := range ids {
			r := make(Row, len(s.rows[id]))
			copy(r, s.rows[id])
			result[i] = r
		}
		s.mu.Unlock()
		return result, nil
	case stmt == CountUsers:
		n := int64(len(s.rows))
		s.mu.Unlock()
		return []Row{{n}}, nil
	}
	s.mu.Unlock()

	// the hook runs unlocked so it can do things like advance a mock clock
	if hook != nil {
		return hook(stmt, args)
	}
	return nil, nil
}

func (c *memoryConn) Close() error {
	c.store.mu.Lock()
	c.store.closed++
	c.store.mu.Unlock()
	return nil
}
