package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonas747/shardbench"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUsers(ids ...int64) []shardbench.User {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	users := make([]shardbench.User, len(ids))
	for i, id := range ids {
		users[i] = shardbench.User{ID: id, Name: "Minh", Email: "minh@example.com", Age: 40, City: "Hanoi", CreatedAt: created}
	}
	return users
}

func TestMemoryInsertAndRead(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()

	err := WithConn(ctx, mem, "mem://a", func(conn Conn) error {
		_, err := conn.Exec(ctx, CreateUsersTable)
		require.NoError(t, err)

		n, err := InsertUsers(ctx, conn, testUsers(3, 1, 2))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		users, err := ReadUsers(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, shardbench.IDs(users))
		assert.Equal(t, "Hanoi", users[0].City)

		rows, err := conn.Query(ctx, CountUsers)
		require.NoError(t, err)
		count, err := CountFromRows(rows)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryBulkInsertIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()
	s := mem.Store("mem://a")

	conn, err := mem.Connect(ctx, "mem://a")
	require.NoError(t, err)
	defer conn.Close()

	_, err = InsertUsers(ctx, conn, testUsers(1, 2))
	require.NoError(t, err)

	// 2 already exists, 5 must not be written either
	_, err = InsertUsers(ctx, conn, testUsers(5, 2))
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Equal(t, []int64{1, 2}, s.IDs())

	_, err = InsertUsers(ctx, conn, testUsers(7, 7))
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryFailInsertsAfter(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()
	s := mem.Store("mem://a")
	s.FailInsertsAfter(1)

	conn, err := mem.Connect(ctx, "mem://a")
	require.NoError(t, err)

	_, err = InsertUsers(ctx, conn, testUsers(1))
	require.NoError(t, err)
	_, err = InsertUsers(ctx, conn, testUsers(2))
	assert.True(t, errors.Is(err, ErrInjectedFailure))

	s.FailInsertsAfter(-1)
	_, err = InsertUsers(ctx, conn, testUsers(2))
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryDeleteUsers(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()

	conn, err := mem.Connect(ctx, "mem://a")
	require.NoError(t, err)

	_, err = InsertUsers(ctx, conn, testUsers(1, 2, 3))
	require.NoError(t, err)

	n, err := conn.Exec(ctx, DeleteUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 0, mem.Store("mem://a").Len())

	_, err = conn.Exec(ctx, "DROP TABLE users")
	assert.True(t, errors.Is(err, ErrUnsupportedStatement))
}

func TestMemoryQueryRecordingAndFailure(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()
	s := mem.Store("mem://a")

	conn, err := mem.Connect(ctx, "mem://a")
	require.NoError(t, err)

	_, err = conn.Query(ctx, "SELECT 1 WHERE $1 = $1", int64(9))
	require.NoError(t, err)

	boom := errors.New("boom")
	s.FailQueries(boom)
	_, err = conn.Query(ctx, CountUsers)
	assert.Equal(t, boom, err)

	calls := s.Queries()
	require.Len(t, calls, 2)
	assert.Equal(t, []interface{}{int64(9)}, calls[0].Args)
	assert.Equal(t, CountUsers, calls[1].Stmt)
}
