package database

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for missing or invalid connection configuration.
	ErrConfiguration = errors.New("invalid database configuration")

	// ErrUnsupported is returned when an operation has no implementation for the dialect.
	ErrUnsupported = errors.New("operation not supported by this driver")

	// ErrNoTransaction is returned by Commit and RollBack outside a transaction.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrUnknownConnection is returned by the manager for unconfigured names.
	ErrUnknownConnection = errors.New("unknown connection")
)

// ConnectionError reports a failure to establish a named connection.
type ConnectionError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection [%s]: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports connection failures as configuration errors.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConfiguration
}

// QueryError wraps a driver failure with the statement that caused it.
type QueryError struct {
	Connection string
	SQL        string
	Bindings   []any
	Err        error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("%v (connection: %s, sql: %s, bindings: %v)", e.Err, e.Connection, e.SQL, e.Bindings)
}

// Unwrap returns the driver error.
func (e *QueryError) Unwrap() error {
	return e.Err
}
