package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/satishbabariya/gorel/internal/debug"
)

func savepointName(depth int) string {
	return "transp" + strconv.Itoa(depth)
}

// TransactionLevel returns the current nesting depth; zero outside a transaction.
func (c *Connection) TransactionLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// BeginTransaction starts a transaction, or a savepoint named after the entered depth when
// one is already open.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.depth == 0 {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return &QueryError{Connection: c.name, SQL: "begin", Err: err}
		}
		c.tx = tx
		c.depth = 1
		debug.Debug("transaction started", "connection", c.name)
		return nil
	}

	name := savepointName(c.depth + 1)
	sql := c.grammar.CompileSavepoint(name)
	if _, err := c.tx.ExecContext(ctx, sql); err != nil {
		return &QueryError{Connection: c.name, SQL: sql, Err: err}
	}
	c.depth++
	return nil
}

// Commit commits the transaction at depth one and runs the after-commit callbacks; deeper
// levels release their savepoint.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.depth == 0:
		c.mu.Unlock()
		return ErrNoTransaction
	case c.depth > 1:
		defer c.mu.Unlock()
		sql := c.grammar.CompileSavepointRelease(savepointName(c.depth))
		c.depth--
		if _, err := c.tx.ExecContext(ctx, sql); err != nil {
			return &QueryError{Connection: c.name, SQL: sql, Err: err}
		}
		return nil
	}

	tx := c.tx
	callbacks := c.afterCommit
	c.tx, c.depth = nil, 0
	c.afterCommit, c.afterRollBack = nil, nil
	c.mu.Unlock()

	if err := tx.Commit(); err != nil {
		return &QueryError{Connection: c.name, SQL: "commit", Err: err}
	}
	debug.Debug("transaction committed", "connection", c.name)
	for _, fn := range callbacks {
		fn(ctx)
	}
	return nil
}

// RollBack rolls the transaction back at depth one and runs the after-rollback callbacks;
// deeper levels roll back to their savepoint.
func (c *Connection) RollBack(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.depth == 0:
		c.mu.Unlock()
		return ErrNoTransaction
	case c.depth > 1:
		defer c.mu.Unlock()
		sql := c.grammar.CompileSavepointRollBack(savepointName(c.depth))
		c.depth--
		if _, err := c.tx.ExecContext(ctx, sql); err != nil {
			return &QueryError{Connection: c.name, SQL: sql, Err: err}
		}
		return nil
	}

	tx := c.tx
	callbacks := c.afterRollBack
	c.tx, c.depth = nil, 0
	c.afterCommit, c.afterRollBack = nil, nil
	c.mu.Unlock()

	if err := tx.Rollback(); err != nil {
		return &QueryError{Connection: c.name, SQL: "rollback", Err: err}
	}
	debug.Debug("transaction rolled back", "connection", c.name)
	for _, fn := range callbacks {
		fn(ctx)
	}
	return nil
}

// AfterCommit queues fn to run once the outermost transaction commits. Outside a
// transaction fn runs immediately.
func (c *Connection) AfterCommit(ctx context.Context, fn func(context.Context)) {
	c.mu.Lock()
	if c.depth == 0 {
		c.mu.Unlock()
		fn(ctx)
		return
	}
	c.afterCommit = append(c.afterCommit, fn)
	c.mu.Unlock()
}

// AfterRollBack queues fn to run if the outermost transaction rolls back. Outside a
// transaction it is discarded.
func (c *Connection) AfterRollBack(fn func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth > 0 {
		c.afterRollBack = append(c.afterRollBack, fn)
	}
}

// Transaction runs fn inside a transaction level, committing when it returns nil and
// rolling back when it returns an error or panics.
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.BeginTransaction(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.RollBack(ctx); rbErr != nil {
				debug.Error("rollback after panic failed", "connection", c.name, "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := c.RollBack(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return c.Commit(ctx)
}
