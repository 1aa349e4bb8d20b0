package orm

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/gorel/database"
	"github.com/satishbabariya/gorel/query/builder"
)

const stamp = "2024-03-05 14:30:00"

var fixedNow = time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// newTestRegistry returns a registry over a single sqlite-dialect mock connection with
// users, posts, comments and images.
func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr := database.NewManager(
		map[string]database.Config{"main": {Driver: "sqlite", Database: ":memory:"}},
		"main",
		database.WithOpener(func(string, string) (*sql.DB, error) { return db, nil }),
	)
	reg := NewRegistry(mgr, WithClock(func() time.Time { return fixedNow }))

	reg.MustRegister(&Schema{
		Name:       "User",
		Timestamps: true,
		Casts:      map[string]Cast{"is_admin": Bool, "settings": JSON},
		Accessors: map[string]Accessor{
			"display_name": {Get: func(m *Model, _ any) any { return strings.ToUpper(cast.ToString(m.Get("name"))) }},
		},
		Fillable: []string{"name", "email", "is_admin", "settings", "password"},
		Hidden:   []string{"password"},
		Rules:    map[string][]string{"email": {"required", "email"}},
		Sortable: []string{"id"},
		PerPage:  10,
		Relations: map[string]RelationFunc{
			"posts":  HasMany("Post"),
			"avatar": MorphOne("Image", "imageable"),
		},
	})
	reg.MustRegister(&Schema{
		Name:       "Post",
		SoftDelete: &SoftDelete{},
		Casts:      map[string]Cast{"status": Enum(StatusDraft, StatusPublished)},
		Relations: map[string]RelationFunc{
			"author":   BelongsTo("User"),
			"comments": HasMany("Comment"),
		},
	})
	reg.MustRegister(&Schema{
		Name:      "Comment",
		Relations: map[string]RelationFunc{"post": BelongsTo("Post")},
	})
	reg.MustRegister(&Schema{
		Name:      "Image",
		Relations: map[string]RelationFunc{"imageable": MorphTo("imageable")},
	})
	reg.MorphMap(map[string]string{"user": "User", "post": "Post"})
	return reg, mock
}

// load hydrates persisted models without touching the database.
func load(t *testing.T, reg *Registry, name string, rows ...builder.Row) []*Model {
	t.Helper()
	s, err := reg.Schema(name)
	require.NoError(t, err)
	return reg.hydrate(context.Background(), s, rows)
}

// countQueries counts the statements run on the registry's default connection.
func countQueries(t *testing.T, reg *Registry) *int {
	t.Helper()
	s, err := reg.Schema("User")
	require.NoError(t, err)
	conn, err := reg.Connection(s)
	require.NoError(t, err)
	n := 0
	conn.Events().Listen(func(context.Context, database.QueryEvent) { n++ })
	return &n
}
