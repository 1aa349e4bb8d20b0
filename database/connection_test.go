package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, cfg Config, opts ...Option) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	opts = append([]Option{WithOpener(func(string, string) (*sql.DB, error) { return db, nil })}, opts...)
	c, err := NewConnection("main", cfg, opts...)
	require.NoError(t, err)
	return c, mock
}

func sqliteConfig() Config {
	return Config{Driver: "sqlite", Database: ":memory:"}
}

func TestSelectReusesPreparedStatement(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	q := `select * from "users" where "id" = ?`

	prep := mock.ExpectPrepare(q)
	prep.ExpectQuery().WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, []byte("ada")))
	prep.ExpectQuery().WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	rows, err := c.Select(ctx, q, []any{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"], "byte slices are returned as strings")

	rows, err = c.Select(ctx, q, []any{2})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)

	assert.Equal(t, []string{q}, c.CachedStatements())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementCacheEvictsOldestInserted(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig()
	cfg.StatementCache = 2
	c, mock := newMock(t, cfg)
	assert.Equal(t, 2, c.StatementCacheSize())

	q1, q2, q3 := "delete from a", "delete from b", "delete from c"
	mock.ExpectPrepare(q1).ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep2 := mock.ExpectPrepare(q2)
	prep2.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(q3).ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(q1).ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))

	for _, q := range []string{q1, q2, q3, q1} {
		_, err := c.Affecting(ctx, q, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{q3, q1}, c.CachedStatements())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultStatementCacheSize(t *testing.T) {
	c, _ := newMock(t, sqliteConfig())
	assert.Equal(t, 100, c.StatementCacheSize())
}

func TestPostgresRebindAndReturning(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, Config{Driver: "pgsql", Database: "app"})

	mock.ExpectPrepare(`insert into "users" ("name") values ($1) returning "id"`).
		ExpectQuery().WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := c.Table("users").InsertGetID(ctx, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertGetIDUsesLastInsertID(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectPrepare(`insert into "users" ("name") values (?)`).
		ExpectExec().WithArgs("ada").
		WillReturnResult(sqlmock.NewResult(12, 1))

	id, err := c.Table("users").InsertGetID(ctx, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
}

func TestQueryErrorWrapsDriverError(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	boom := errors.New("no such table: users")
	mock.ExpectPrepare("select * from users").WillReturnError(boom)

	_, err := c.Select(ctx, "select * from users", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "main", qe.Connection)
	assert.Equal(t, "select * from users", qe.SQL)
}

func TestConnectFailureIsConfigurationError(t *testing.T) {
	c, err := NewConnection("reporting", sqliteConfig(), WithOpener(func(string, string) (*sql.DB, error) {
		return nil, errors.New("unreachable")
	}))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "reporting", ce.Name)

	_, err = NewConnection("x", Config{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestConnectRunsInitStatementsOnce(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig()
	cfg.Options = map[string]string{"journal_mode": "wal", "foreign_keys": "on"}
	c, mock := newMock(t, cfg)
	mock.ExpectExec("pragma foreign_keys = on").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("pragma journal_mode = wal").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.Connected())
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.Empty(t, c.CachedStatements())
}

func TestPretendCollectsWithoutExecuting(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())

	statements, err := c.Pretend(ctx, func(ctx context.Context) error {
		if _, err := c.Table("users").Where("id", 1).Update(ctx, map[string]any{"name": "x"}); err != nil {
			return err
		}
		_, err := c.Table("users").Get(ctx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, statements, 2)
	assert.Equal(t, `update "users" set "name" = ? where "id" = ?`, statements[0].SQL)
	assert.Equal(t, []any{"x", 1}, statements[0].Bindings)
	assert.Equal(t, `select * from "users"`, statements[1].SQL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventsAndQueryLog(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	c.Events().EnableQueryLog()

	var seen []QueryEvent
	c.Events().Listen(func(_ context.Context, ev QueryEvent) { panic("listener bug") })
	c.Events().Listen(func(_ context.Context, ev QueryEvent) { seen = append(seen, ev) })

	mock.ExpectPrepare("delete from logs where id = ?").ExpectExec().WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := c.Affecting(ctx, "delete from logs where id = ?", []any{3})
	require.NoError(t, err, "a panicking listener does not fail the query")
	assert.Equal(t, int64(1), n)

	require.Len(t, seen, 1)
	assert.Equal(t, "main", seen[0].Connection)
	assert.Equal(t, []any{3}, seen[0].Bindings)
	assert.GreaterOrEqual(t, seen[0].ElapsedMS(), 0.0)

	log := c.Events().QueryLog()
	require.Len(t, log, 1)
	assert.Equal(t, "delete from logs where id = ?", log[0].SQL)
	c.Events().FlushQueryLog()
	assert.Empty(t, c.Events().QueryLog())
}

func TestTableBuilderRunsThroughConnection(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectPrepare(`select * from "users" where "id" = ? limit 1`).
		ExpectQuery().WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(5, "a@b.c"))

	row, err := c.Table("users").Find(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", row["email"])
}
