// Package source reads ranked stat columns from a relational database.
package source

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	// Registered drivers selectable through Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

var _ ranking.Source = (*SQL)(nil)

// SQL is a ranking.Source backed by a database/sql connection pool.
type SQL struct {
	DB  *sqlx.DB
	log *zap.Logger
}

// New returns a source reading through db.
func New(db *sqlx.DB, log *zap.Logger) *SQL {
	return &SQL{DB: db, log: log}
}

// Open creates a connection pool for the database identified by driver and
// dsn. An unreachable database is not an error here: every build reports it
// as ESourceUnreachable, so indexes restored from disk keep serving.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*SQL, error) {
	const op = "source.Open"

	switch driver {
	case DriverMySQL, DriverSQLite:
	default:
		return nil, errors.Errorf(errors.EInvalid, op, "unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.EInvalid, op, fmt.Sprintf("open %s database", driver))
	}
	if err := db.PingContext(ctx); err != nil {
		log.Warn("Source database unreachable, builds will fail until it recovers",
			zap.String("driver", driver), zap.Error(err))
	} else {
		log.Info("Connected to source database", zap.String("driver", driver))
	}
	return New(db, log), nil
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	return s.DB.Close()
}

// Count returns the number of rows of table satisfying q.
func (s *SQL) Count(ctx context.Context, table string, q ranking.Qualification) (int64, error) {
	const op = "source.Count"

	if err := validate(op, table); err != nil {
		return 0, err
	}
	query, args, err := qualify(sq.Select("COUNT(*)").From(quote(table)), q).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, errors.EInternal, op, "build count query")
	}

	var n int64
	if err := s.DB.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.Wrap(err, queryCode(err), op, fmt.Sprintf("count rows of %s", table))
	}
	return n, nil
}

// Stream returns the values of stat over the rows of table satisfying q,
// highest first. NULL values sort after every other value.
func (s *SQL) Stream(ctx context.Context, table, stat string, q ranking.Qualification) (ranking.Cursor, error) {
	const op = "source.Stream"

	if err := validate(op, table, stat); err != nil {
		return nil, err
	}
	query, args, err := qualify(sq.Select(quote(stat)).From(quote(table)), q).
		OrderBy(quote(stat) + " DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, errors.EInternal, op, "build stream query")
	}

	s.log.Debug("Streaming stat", zap.String("table", table), zap.String("stat", stat), zap.String("query", query))
	rows, err := s.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, queryCode(err), op, fmt.Sprintf("stream %s.%s", table, stat))
	}
	return &cursor{rows: rows}, nil
}

// cursor reads one nullable integer column. Rows skipped with Next are never
// scanned.
type cursor struct {
	rows *sqlx.Rows
}

func (c *cursor) Next() bool { return c.rows.Next() }

func (c *cursor) Value() (int32, bool, error) {
	var v sql.NullInt32
	if err := c.rows.Scan(&v); err != nil {
		return 0, false, err
	}
	return v.Int32, v.Valid, nil
}

func (c *cursor) Err() error { return c.rows.Err() }

func (c *cursor) Close() error { return c.rows.Close() }

// qualify restricts b to rows whose fields reach every minimum of q.
func qualify(b sq.SelectBuilder, q ranking.Qualification) sq.SelectBuilder {
	for _, c := range q {
		b = b.Where(sq.GtOrEq{quote(c.Field): c.Minimum})
	}
	return b
}

func validate(op string, names ...string) error {
	for _, name := range names {
		if !ranking.ValidIdentifier(name) {
			return errors.Errorf(errors.EInvalid, op, "invalid identifier %q", name)
		}
	}
	return nil
}

// quote wraps a validated identifier in backquotes, which both MySQL and
// SQLite accept.
func quote(name string) string {
	return "`" + name + "`"
}

func queryCode(err error) string {
	switch errors.ErrorCode(err) {
	case errors.ECanceled:
		return errors.ECanceled
	default:
		return errors.ESourceUnreachable
	}
}
