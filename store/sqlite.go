package store

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqlite refuses statements with more host parameters than this
const sqliteMaxVariables = 32766

// SQLiteGateway opens sqlite:// (or file:) locators, mostly useful for local runs and tests
type SQLiteGateway struct{}

func (g *SQLiteGateway) Connect(ctx context.Context, locator string) (Conn, error) {
	dsn := SQLitePath(locator)
	if dsn == "" {
		return nil, errors.New("empty sqlite path")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "sqlx.Open")
	}

	// a single connection keeps ":memory:" style dsns consistent for the life of the Conn
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "ping")
	}

	return &sqliteConn{db: db}, nil
}

// SQLitePath turns "sqlite:///tmp/a.db" and "sqlite://a.db" into a driver dsn, "file:" dsns pass through
func SQLitePath(locator string) string {
	if strings.HasPrefix(locator, "file:") {
		return locator
	}
	return strings.TrimPrefix(locator, "sqlite://")
}

type sqliteConn struct {
	db *sqlx.DB
}

func (c *sqliteConn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	res, err := c.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BulkInsert builds multi row INSERTs with squirrel, split to stay under the
// parameter limit, all inside one transaction so the batch is all or nothing
func (c *sqliteConn) BulkInsert(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	perStatement := sqliteMaxVariables / len(columns)

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.WithMessage(err, "BeginTxx")
	}

	var total int64
	for start := 0; start < len(rows); start += perStatement {
		end := start + perStatement
		if end > len(rows) {
			end = len(rows)
		}

		q := sq.Insert(table).Columns(columns...)
		for _, r := range rows[start:end] {
			q = q.Values(r...)
		}

		query, args, err := q.ToSql()
		if err != nil {
			tx.Rollback()
			return 0, errors.WithMessage(err, "ToSql")
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			tx.Rollback()
			return 0, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		total += n
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.WithMessage(err, "Commit")
	}

	return total, nil
}

func (c *sqliteConn) Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error) {
	rows, err := c.db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		result = append(result, Row(values))
	}

	return result, rows.Err()
}

func (c *sqliteConn) Close() error {
	return c.db.Close()
}
