package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNestedTransactionsUseSavepoints(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT transp3").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT transp3").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	committed, rolledBack := 0, 0
	require.NoError(t, c.BeginTransaction(ctx))
	c.AfterCommit(ctx, func(context.Context) { committed++ })
	c.AfterRollBack(func(context.Context) { rolledBack++ })

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.BeginTransaction(ctx))
	assert.Equal(t, 3, c.TransactionLevel())
	require.NoError(t, c.RollBack(ctx))
	assert.Equal(t, 2, c.TransactionLevel())
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 1, c.TransactionLevel())

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.Commit(ctx))
	assert.Zero(t, committed, "callbacks wait for the outermost commit")

	require.NoError(t, c.Commit(ctx))
	assert.Zero(t, c.TransactionLevel())
	assert.Equal(t, 1, committed)
	assert.Zero(t, rolledBack)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, c.Commit(ctx), ErrNoTransaction)
	assert.ErrorIs(t, c.RollBack(ctx), ErrNoTransaction)
}

func TestRollBackRunsCallbacksOnce(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rolledBack := 0
	require.NoError(t, c.BeginTransaction(ctx))
	c.AfterRollBack(func(context.Context) { rolledBack++ })
	c.AfterCommit(ctx, func(context.Context) { t.Fatal("commit callback after rollback") })
	require.NoError(t, c.RollBack(ctx))
	assert.Equal(t, 1, rolledBack)

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 1, rolledBack, "queues are cleared after the outermost rollback")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAfterCommitOutsideTransactionRunsNow(t *testing.T) {
	c, _ := newMock(t, sqliteConfig())
	ran := false
	c.AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}

func TestStatementsInsideTransactionRunOnIt(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectExec(`update "users" set "name" = ? where "id" = ?`).WithArgs("x", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Transaction(ctx, func(ctx context.Context) error {
		_, err := c.Table("users").Where("id", 1).Update(ctx, map[string]any{"name": "x"})
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, c.CachedStatements())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := c.Transaction(ctx, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.TransactionLevel())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = c.Transaction(ctx, func(context.Context) error { panic("kaboom") })
	})
	assert.Zero(t, c.TransactionLevel())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNestedTransactionHelper(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inner := errors.New("inner failed")
	err := c.Transaction(ctx, func(ctx context.Context) error {
		err := c.Transaction(ctx, func(context.Context) error { return inner })
		assert.ErrorIs(t, err, inner)
		assert.Equal(t, 1, c.TransactionLevel())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSavepointReleaseStillUnwinds(t *testing.T) {
	ctx := context.Background()
	c, mock := newMock(t, sqliteConfig())
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT transp2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT transp2").WillReturnError(errors.New("gone"))
	mock.ExpectRollback()

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.BeginTransaction(ctx))
	assert.Error(t, c.Commit(ctx))
	assert.Equal(t, 1, c.TransactionLevel())
	require.NoError(t, c.RollBack(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
