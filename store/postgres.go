package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// PostgresGateway connects to postgres:// locators with pgx, one connection per Connect
type PostgresGateway struct {
	// ConnectTimeout bounds the dial, zero leaves it to pgx and the context
	ConnectTimeout time.Duration
}

func (g *PostgresGateway) Connect(ctx context.Context, locator string) (Conn, error) {
	cfg, err := pgx.ParseConfig(locator)
	if err != nil {
		return nil, errors.WithMessage(err, "pgx.ParseConfig")
	}

	if g.ConnectTimeout > 0 {
		cfg.ConnectTimeout = g.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "pgx.ConnectConfig")
	}

	return &postgresConn{conn: conn}, nil
}

type postgresConn struct {
	conn *pgx.Conn
}

func (c *postgresConn) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	tag, err := c.conn.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BulkInsert uses the COPY protocol, the whole batch lands or none of it does
func (c *postgresConn) BulkInsert(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	return n, errors.WithMessage(err, "CopyFrom")
}

func (c *postgresConn) Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error) {
	rows, err := c.conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result = append(result, Row(values))
	}

	return result, rows.Err()
}

func (c *postgresConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.conn.Close(ctx)
}
