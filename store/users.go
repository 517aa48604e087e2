package store

import (
	"context"
	"time"

	"github.com/jonas747/shardbench"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// UsersTable and its columns are the fixed contract every store is written and read with
const UsersTable = "users"

var UserColumns = []string{"id", "name", "email", "age", "city", "created_at"}

const CreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	age INTEGER NOT NULL,
	city TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

const (
	SelectUsers = `SELECT id, name, email, age, city, created_at FROM users ORDER BY id`
	CountUsers  = `SELECT COUNT(*) FROM users`
	DeleteUsers = `DELETE FROM users`
)

// InsertUsers bulk inserts users as a single operation on conn
func InsertUsers(ctx context.Context, conn Conn, users []shardbench.User) (int64, error) {
	rows := make([][]interface{}, len(users))
	for i := range users {
		rows[i] = users[i].Values()
	}

	return conn.BulkInsert(ctx, UsersTable, UserColumns, rows)
}

// ReadUsers returns every user on conn ordered by id
func ReadUsers(ctx context.Context, conn Conn) ([]shardbench.User, error) {
	rows, err := conn.Query(ctx, SelectUsers)
	if err != nil {
		return nil, err
	}

	users := make([]shardbench.User, 0, len(rows))
	for _, r := range rows {
		u, err := UserFromRow(r)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, nil
}

// UserFromRow converts a row selected with SelectUsers. Drivers disagree on the
// concrete types (int32 vs int64, []byte vs string, string vs time.Time) so everything goes through cast.
func UserFromRow(r Row) (shardbench.User, error) {
	if len(r) != len(UserColumns) {
		return shardbench.User{}, errors.Errorf("user row has %d columns, expected %d", len(r), len(UserColumns))
	}

	id, err := cast.ToInt64E(normalize(r[0]))
	if err != nil {
		return shardbench.User{}, errors.WithMessage(err, "id")
	}

	age, err := cast.ToIntE(normalize(r[3]))
	if err != nil {
		return shardbench.User{}, errors.WithMessage(err, "age")
	}

	createdAt, err := toTime(r[5])
	if err != nil {
		return shardbench.User{}, errors.WithMessage(err, "created_at")
	}

	return shardbench.User{
		ID:        id,
		Name:      cast.ToString(normalize(r[1])),
		Email:     cast.ToString(normalize(r[2])),
		Age:       age,
		City:      cast.ToString(normalize(r[4])),
		CreatedAt: createdAt,
	}, nil
}

// CountFromRows reads the single value of a COUNT(*) result
func CountFromRows(rows []Row) (int64, error) {
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, errors.New("count query did not return exactly one value")
	}
	return cast.ToInt64E(normalize(rows[0][0]))
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// sqlite hands back timestamps as text with the driver's own layout
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func toTime(v interface{}) (time.Time, error) {
	v = normalize(v)
	if s, ok := v.(string); ok {
		for _, layout := range sqliteTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
	}
	return cast.ToTimeE(v)
}
