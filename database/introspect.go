package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/query/grammar"
)

// Column describes a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  any
}

// GetTables lists the base tables of the current database, sorted by name.
func (c *Connection) GetTables(ctx context.Context) ([]string, error) {
	var query string
	switch c.grammar.Dialect() {
	case grammar.SQLite:
		query = "select name from sqlite_master where type = 'table' and name not like 'sqlite_%' order by name"
	case grammar.Postgres:
		query = "select table_name as name from information_schema.tables where table_schema = current_schema() and table_type = 'BASE TABLE' order by table_name"
	case grammar.MySQL:
		query = "select table_name as name from information_schema.tables where table_schema = database() and table_type = 'BASE TABLE' order by table_name"
	default:
		return nil, fmt.Errorf("%w: list tables on %s", ErrUnsupported, c.grammar.Dialect())
	}
	rows, err := c.Select(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, r := range rows {
		tables = append(tables, cast.ToString(r["name"]))
	}
	return tables, nil
}

// GetColumns describes the columns of table in declaration order.
func (c *Connection) GetColumns(ctx context.Context, table string) ([]Column, error) {
	var query string
	switch c.grammar.Dialect() {
	case grammar.SQLite:
		query = `select name, type, "notnull" as not_null, dflt_value as default_value from pragma_table_info(?) order by cid`
	case grammar.Postgres:
		query = "select column_name as name, data_type as type, is_nullable as nullable, column_default as default_value from information_schema.columns where table_schema = current_schema() and table_name = ? order by ordinal_position"
	case grammar.MySQL:
		query = "select column_name as name, column_type as type, is_nullable as nullable, column_default as default_value from information_schema.columns where table_schema = database() and table_name = ? order by ordinal_position"
	default:
		return nil, fmt.Errorf("%w: list columns on %s", ErrUnsupported, c.grammar.Dialect())
	}
	rows, err := c.Select(ctx, query, []any{table})
	if err != nil {
		return nil, err
	}
	columns := make([]Column, 0, len(rows))
	for _, r := range rows {
		col := Column{Name: cast.ToString(r["name"]), Type: cast.ToString(r["type"]), Default: r["default_value"]}
		if notNull, ok := r["not_null"]; ok {
			col.Nullable = !cast.ToBool(notNull)
		} else {
			col.Nullable = strings.EqualFold(cast.ToString(r["nullable"]), "yes")
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// TableExists reports whether table exists.
func (c *Connection) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch c.grammar.Dialect() {
	case grammar.SQLite:
		query = "select count(*) as aggregate from sqlite_master where type = 'table' and name = ?"
	case grammar.Postgres:
		query = "select count(*) as aggregate from information_schema.tables where table_schema = current_schema() and table_name = ? and table_type = 'BASE TABLE'"
	case grammar.MySQL:
		query = "select count(*) as aggregate from information_schema.tables where table_schema = database() and table_name = ? and table_type = 'BASE TABLE'"
	default:
		return false, fmt.Errorf("%w: table exists on %s", ErrUnsupported, c.grammar.Dialect())
	}
	row, err := c.SelectOne(ctx, query, []any{table})
	if err != nil || row == nil {
		return false, err
	}
	n, err := cast.ToInt64E(row["aggregate"])
	return n > 0, err
}

// ColumnExists reports whether table has column, compared case-insensitively.
func (c *Connection) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	columns, err := c.GetColumns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, col := range columns {
		if strings.EqualFold(col.Name, column) {
			return true, nil
		}
	}
	return false, nil
}

// TruncateTable empties table and resets its identity where the dialect supports it.
func (c *Connection) TruncateTable(ctx context.Context, table string) error {
	return c.Table(table).Truncate(ctx)
}

// DropAllTables drops every base table with referential integrity checks suspended.
// SQLite ignores foreign_keys changes inside a transaction, so it refuses to run in one.
func (c *Connection) DropAllTables(ctx context.Context) error {
	if c.grammar.Dialect() == grammar.SQLite && c.TransactionLevel() > 0 {
		return fmt.Errorf("%w: drop all tables inside a sqlite transaction", ErrUnsupported)
	}
	tables, err := c.GetTables(ctx)
	if err != nil || len(tables) == 0 {
		return err
	}
	switch c.grammar.Dialect() {
	case grammar.Postgres:
		wrapped := make([]string, len(tables))
		for i, t := range tables {
			wrapped[i] = c.grammar.WrapTable(t)
		}
		return c.Unprepared(ctx, "drop table if exists "+strings.Join(wrapped, ", ")+" cascade")
	case grammar.MySQL:
		return c.withoutForeignKeys(ctx, "set foreign_key_checks = 0", "set foreign_key_checks = 1", tables)
	case grammar.SQLite:
		row, err := c.SelectOne(ctx, "pragma foreign_keys", nil)
		if err != nil {
			return err
		}
		restore := "pragma foreign_keys = off"
		if row != nil && cast.ToBool(row["foreign_keys"]) {
			restore = "pragma foreign_keys = on"
		}
		return c.withoutForeignKeys(ctx, "pragma foreign_keys = off", restore, tables)
	}
	return fmt.Errorf("%w: drop all tables on %s", ErrUnsupported, c.grammar.Dialect())
}

func (c *Connection) withoutForeignKeys(ctx context.Context, disable, restore string, tables []string) (err error) {
	if err := c.Unprepared(ctx, disable); err != nil {
		return err
	}
	defer func() {
		if rerr := c.Unprepared(ctx, restore); rerr != nil && err == nil {
			err = rerr
		}
	}()
	for _, t := range tables {
		if err := c.Unprepared(ctx, "drop table if exists "+c.grammar.WrapTable(t)); err != nil {
			return err
		}
	}
	return nil
}

// ServerVersion queries the server version.
func (c *Connection) ServerVersion(ctx context.Context) (*version.Version, string, error) {
	var query string
	switch c.grammar.Dialect() {
	case grammar.SQLite:
		query = "select sqlite_version() as version"
	case grammar.Postgres:
		query = "select current_setting('server_version') as version"
	case grammar.MySQL:
		query = "select version() as version"
	default:
		return nil, "", fmt.Errorf("%w: server version on %s", ErrUnsupported, c.grammar.Dialect())
	}
	row, err := c.SelectOne(ctx, query, nil)
	if err != nil {
		return nil, "", err
	}
	raw := cast.ToString(row["version"])
	v, err := ParseServerVersion(raw)
	if err != nil {
		return nil, raw, err
	}
	return v, raw, nil
}
