package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/gorel/internal/sqltext"
	"github.com/satishbabariya/gorel/query/ast"
)

func TestCompileInsert(t *testing.T) {
	rows := []map[string]any{
		{"name": "a", "age": 1},
		{"name": "b", "age": 2},
	}
	q := &ast.Query{Table: "users"}

	sql, bindings, err := NewPostgres().CompileInsert(q, rows)
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("age", "name") values (?, ?), (?, ?)`, sql)
	assert.Equal(t, []any{1, "a", 2, "b"}, bindings)

	sql, bindings, err = NewSQLite().CompileInsert(q, []map[string]any{{"name": "a"}, {"name": "b", "age": 2}})
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("age", "name") values (?, ?), (?, ?)`, sql)
	assert.Equal(t, []any{nil, "a", 2, "b"}, bindings)

	sql, _, err = NewMySQL().CompileInsert(q, nil)
	require.NoError(t, err)
	assert.Equal(t, "insert into `users` () values ()", sql)

	sql, _, err = NewSQLite().CompileInsert(q, nil)
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" default values`, sql)
}

func TestCompileInsertRaw(t *testing.T) {
	row := map[string]any{"created_at": ast.MustRaw("now()"), "score": ast.MustRaw("? + 1", 4)}
	sql, bindings, err := NewSQLite().CompileInsert(&ast.Query{Table: "users"}, []map[string]any{row})
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("created_at", "score") values (now(), ? + 1)`, sql)
	assert.Equal(t, []any{4}, bindings)
}

func TestCompileInsertGetID(t *testing.T) {
	row := map[string]any{"name": "a"}
	sql, _, err := NewPostgres().CompileInsertGetID(&ast.Query{Table: "users"}, row, "id")
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("name") values (?) returning "id"`, sql)

	sql, _, err = NewMySQL().CompileInsertGetID(&ast.Query{Table: "users"}, row, "id")
	require.NoError(t, err)
	assert.Equal(t, "insert into `users` (`name`) values (?)", sql)
}

func TestCompileInsertOrIgnore(t *testing.T) {
	rows := []map[string]any{{"email": "a@b.c"}}
	q := &ast.Query{Table: "users"}
	want := map[string]string{
		"mysql":    "insert ignore into `users` (`email`) values (?)",
		"postgres": `insert into "users" ("email") values (?) on conflict do nothing`,
		"sqlite":   `insert or ignore into "users" ("email") values (?)`,
	}
	for name, g := range grammars() {
		sql, bindings, err := g.CompileInsertOrIgnore(q, rows)
		require.NoError(t, err)
		assert.Equal(t, want[name], sql, name)
		assert.Equal(t, []any{"a@b.c"}, bindings)
	}
}

func TestCompileUpsert(t *testing.T) {
	rows := []map[string]any{{"email": "a@b.c", "name": "A"}}
	q := &ast.Query{Table: "users"}
	unique, update := []string{"email"}, []string{"name"}

	sql, bindings, err := NewPostgres().CompileUpsert(q, rows, unique, update)
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("email", "name") values (?, ?) on conflict ("email") do update set "name" = "excluded"."name"`, sql)
	assert.Equal(t, []any{"a@b.c", "A"}, bindings)

	sql, _, err = NewSQLite().CompileUpsert(q, rows, unique, nil)
	require.NoError(t, err)
	assert.Equal(t, `insert into "users" ("email", "name") values (?, ?) on conflict ("email") do nothing`, sql)

	sql, _, err = NewMySQL().CompileUpsert(q, rows, unique, update)
	require.NoError(t, err)
	assert.Equal(t, "insert into `users` (`email`, `name`) values (?, ?) on duplicate key update `name` = values(`name`)", sql)

	sql, _, err = NewMySQL(WithRowAlias()).CompileUpsert(q, rows, unique, update)
	require.NoError(t, err)
	assert.Equal(t, "insert into `users` (`email`, `name`) values (?, ?) as `gorel_upsert_alias` on duplicate key update `name` = `gorel_upsert_alias`.`name`", sql)
}

func TestCompileUpdate(t *testing.T) {
	q := whereQuery("users", basic("id", "=", 7))
	values := map[string]any{"name": "x", "votes": ast.MustRaw("votes + ?", 1)}
	want := map[string]string{
		"mysql":    "update `users` set `name` = ?, `votes` = votes + ? where `id` = ?",
		"postgres": `update "users" set "name" = ?, "votes" = votes + ? where "id" = ?`,
		"sqlite":   `update "users" set "name" = ?, "votes" = votes + ? where "id" = ?`,
	}
	for name, g := range grammars() {
		sql, bindings, err := g.CompileUpdate(q, values)
		require.NoError(t, err)
		assert.Equal(t, want[name], sql, name)
		assert.Equal(t, []any{"x", 1, 7}, bindings, name)
	}
}

func joinedQuery() *ast.Query {
	q := whereQuery("users", basic("posts.flag", "=", true))
	q.Joins = []*ast.Join{{
		Type:  "inner",
		Table: "posts",
		Wheres: []ast.Where{
			&ast.ColumnCompare{Meta: and(), First: "users.id", Operator: "=", Second: "posts.user_id"},
			basic("posts.kind", "=", "x"),
		},
	}}
	q.Bindings.Add(ast.ClauseJoin, "x")
	return q
}

func TestCompileUpdateWithJoins(t *testing.T) {
	values := map[string]any{"active": false}

	sql, bindings, err := NewMySQL().CompileUpdate(joinedQuery(), values)
	require.NoError(t, err)
	assert.Equal(t, "update `users` inner join `posts` on `users`.`id` = `posts`.`user_id` and `posts`.`kind` = ? set `active` = ? where `posts`.`flag` = ?", sql)
	assert.Equal(t, []any{"x", false, true}, bindings)

	sql, bindings, err = NewPostgres().CompileUpdate(joinedQuery(), values)
	require.NoError(t, err)
	assert.Equal(t, `update "users" set "active" = ? where "ctid" in (select "users"."ctid" from "users" inner join "posts" on "users"."id" = "posts"."user_id" and "posts"."kind" = ? where "posts"."flag" = ?)`, sql)
	assert.Equal(t, []any{false, "x", true}, bindings)

	sql, bindings, err = NewSQLite().CompileUpdate(joinedQuery(), values)
	require.NoError(t, err)
	assert.Equal(t, `update "users" set "active" = ? where "rowid" in (select "users"."rowid" from "users" inner join "posts" on "users"."id" = "posts"."user_id" and "posts"."kind" = ? where "posts"."flag" = ?)`, sql)
	assert.Equal(t, []any{false, "x", true}, bindings)
}

func TestCompileDelete(t *testing.T) {
	q := whereQuery("logs", basic("level", "=", "debug"))
	q.Limit = intp(10)

	sql, bindings, err := NewSQLite().CompileDelete(q)
	require.NoError(t, err)
	assert.Equal(t, `delete from "logs" where "rowid" in (select "logs"."rowid" from "logs" where "level" = ? limit 10)`, sql)
	assert.Equal(t, []any{"debug"}, bindings)

	sql, _, err = NewMySQL().CompileDelete(q)
	require.NoError(t, err)
	assert.Equal(t, "delete from `logs` where `level` = ? limit 10", sql)

	sql, _, err = NewPostgres().CompileDelete(&ast.Query{Table: "logs"})
	require.NoError(t, err)
	assert.Equal(t, `delete from "logs"`, sql)

	sql, bindings, err = NewMySQL().CompileDelete(joinedQuery())
	require.NoError(t, err)
	assert.Equal(t, "delete `users` from `users` inner join `posts` on `users`.`id` = `posts`.`user_id` and `posts`.`kind` = ? where `posts`.`flag` = ?", sql)
	assert.Equal(t, []any{"x", true}, bindings)
}

func TestCompileLimitedMutationsOnPostgres(t *testing.T) {
	q := whereQuery("jobs", basic("status", "=", "pending"))
	q.Limit = intp(1)

	sql, bindings, err := NewPostgres().CompileDelete(q)
	require.NoError(t, err)
	assert.Equal(t, `delete from "jobs" where "ctid" in (select "jobs"."ctid" from "jobs" where "status" = ? limit 1)`, sql)
	assert.Equal(t, []any{"pending"}, bindings)

	sql, bindings, err = NewPostgres().CompileUpdate(q, map[string]any{"status": "running"})
	require.NoError(t, err)
	assert.Equal(t, `update "jobs" set "status" = ? where "ctid" in (select "jobs"."ctid" from "jobs" where "status" = ? limit 1)`, sql)
	assert.Equal(t, []any{"running", "pending"}, bindings)
}

func TestCompileTruncate(t *testing.T) {
	q := &ast.Query{Table: "users"}

	stmts, err := NewMySQL().CompileTruncate(q)
	require.NoError(t, err)
	assert.Equal(t, []Statement{{SQL: "truncate table `users`", Bindings: []any{}}}, stmts)

	stmts, err = NewPostgres().CompileTruncate(q)
	require.NoError(t, err)
	assert.Equal(t, `truncate "users" restart identity cascade`, stmts[0].SQL)

	stmts, err = NewSQLite().CompileTruncate(q)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, Statement{SQL: "delete from sqlite_sequence where name = ?", Bindings: []any{"users"}}, stmts[0])
	assert.Equal(t, `delete from "users"`, stmts[1].SQL)
}

func TestPlaceholdersMatchBindings(t *testing.T) {
	for name, g := range grammars() {
		cases := map[string]func() (string, []any, error){
			"select": func() (string, []any, error) { return g.CompileSelect(joinedQuery()) },
			"exists": func() (string, []any, error) { return g.CompileExists(joinedQuery()) },
			"update": func() (string, []any, error) {
				return g.CompileUpdate(joinedQuery(), map[string]any{"a": 1, "b": ast.MustRaw("b + ?", 2)})
			},
			"delete": func() (string, []any, error) { return g.CompileDelete(joinedQuery()) },
			"insert": func() (string, []any, error) {
				return g.CompileInsert(&ast.Query{Table: "t"}, []map[string]any{{"a": 1, "b": 2}, {"a": 3}})
			},
			"upsert": func() (string, []any, error) {
				return g.CompileUpsert(&ast.Query{Table: "t"}, []map[string]any{{"a": 1, "b": 2}}, []string{"a"}, []string{"b"})
			},
		}
		for kind, compile := range cases {
			sql, bindings, err := compile()
			require.NoError(t, err, "%s %s", name, kind)
			assert.Equal(t, sqltext.CountPlaceholders(sql), len(bindings), "%s %s: %s", name, kind, sql)
		}
	}
}
