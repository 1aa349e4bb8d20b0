package orm

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/gorel/query/builder"
)

func TestSchemaDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for name, table := range map[string]string{"User": "users", "Post": "posts", "Comment": "comments", "Image": "images"} {
		s, err := reg.Schema(name)
		require.NoError(t, err)
		assert.Equal(t, table, s.Table)
		assert.Equal(t, "id", s.PrimaryKey)
	}
	post, _ := reg.Schema("Post")
	assert.Equal(t, "deleted_at", post.SoftDelete.Column)

	s := reg.MustRegister(&Schema{Name: "BlogPost"})
	assert.Equal(t, "blog_posts", s.Table)
	assert.Equal(t, "blog_post_id", s.ForeignKey())
	assert.Equal(t, 15, s.PerPage)

	_, err := reg.Register(&Schema{Name: "BlogPost"})
	assert.Error(t, err)

	_, err = reg.Query("Ghost").Get(context.Background())
	assert.ErrorIs(t, err, ErrUnknownSchema)

	reg.Reset()
	_, err = reg.Schema("User")
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestSaveInsertsNewModel(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	mock.ExpectPrepare(`insert into "users" ("created_at", "email", "is_admin", "name", "updated_at") values (?, ?, ?, ?, ?)`).
		ExpectExec().
		WithArgs(stamp, "ada@example.com", 1, "Ada", stamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u, err := reg.Make("User", map[string]any{"name": "Ada", "email": "ada@example.com", "is_admin": true, "role": "root"})
	require.NoError(t, err)
	assert.False(t, u.Exists())
	assert.Nil(t, u.Raw("role"), "only fillable attributes are set")

	require.NoError(t, u.Save(ctx))
	assert.True(t, u.Exists())
	assert.True(t, u.WasRecentlyCreated())
	assert.Equal(t, int64(1), u.Key())
	assert.False(t, u.IsDirty())
	assert.Equal(t, true, u.Get("is_admin"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSendsOnlyDirtyColumns(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	rows := sqlmock.NewRows([]string{"id", "name", "email", "is_admin", "created_at", "updated_at"}).
		AddRow(int64(1), "Ada", "ada@example.com", int64(0), "2024-01-01 00:00:00", "2024-01-01 00:00:00")
	mock.ExpectPrepare(`select * from "users" where "users"."id" = ? limit 1`).
		ExpectQuery().WithArgs(1).WillReturnRows(rows)

	u, err := reg.Query("User").Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, false, u.Get("is_admin"))

	require.NoError(t, u.Save(ctx), "saving a clean model")
	require.NoError(t, u.Update(ctx, map[string]any{"name": "Ada", "is_admin": false}), "same values")
	require.NoError(t, mock.ExpectationsWereMet(), "no statement for a clean model")

	require.NoError(t, u.Set("name", "Grace"))
	assert.True(t, u.IsDirty("name"))
	assert.False(t, u.IsDirty("email"))
	assert.Equal(t, "Ada", u.GetOriginal("name"))

	mock.ExpectPrepare(`update "users" set "name" = ?, "updated_at" = ? where "id" = ?`).
		ExpectExec().WithArgs("Grace", stamp, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, u.Save(ctx))
	assert.True(t, u.IsClean())
	assert.Equal(t, "Grace", u.GetOriginal("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangingPrimaryKeyTargetsStoredRow(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	u := load(t, reg, "User", builder.Row{"id": int64(1), "name": "Ada", "email": "ada@example.com"})[0]

	require.NoError(t, u.Set("id", int64(5)))
	mock.ExpectPrepare(`update "users" set "id" = ?, "updated_at" = ? where "id" = ?`).
		ExpectExec().WithArgs(int64(5), stamp, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, u.Save(ctx))

	mock.ExpectPrepare(`delete from "users" where "id" = ?`).
		ExpectExec().WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, u.Delete(ctx))
	assert.False(t, u.Exists())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationErrorListsFields(t *testing.T) {
	reg, mock := newTestRegistry(t)
	u, err := reg.Make("User", map[string]any{"name": "Ada", "email": "nope"})
	require.NoError(t, err)

	err = u.Save(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "User", verr.Model)
	assert.Equal(t, map[string][]string{"email": {"must be a valid email address"}}, verr.Errors)
	assert.False(t, u.Exists())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	var fired []Event
	for _, ev := range []Event{Saving, Creating, Created, Saved, Updating, Updated} {
		ev := ev
		reg.Listen("User", ev, func(context.Context, *Model) bool {
			fired = append(fired, ev)
			return true
		})
	}
	mock.ExpectPrepare(`insert into "users" ("created_at", "email", "updated_at") values (?, ?, ?)`).
		ExpectExec().WillReturnResult(sqlmock.NewResult(3, 1))

	u, err := reg.Query("User").Create(ctx, map[string]any{"email": "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.Key())
	assert.Equal(t, []Event{Saving, Creating, Created, Saved}, fired)

	reg.Listen("User", Updating, func(context.Context, *Model) bool { return false })
	require.NoError(t, u.Set("email", "c@d.co"))
	err = u.Save(ctx)
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, u.IsDirty("email"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatingListenerCanAbort(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Listen("User", Creating, func(context.Context, *Model) bool { return false })
	u, err := reg.Make("User", map[string]any{"email": "a@b.co"})
	require.NoError(t, err)
	assert.ErrorIs(t, u.Save(context.Background()), ErrAborted)
	assert.False(t, u.Exists())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestToMapAppliesCastsAndHidesAttributes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	u := load(t, reg, "User", builder.Row{
		"id": int64(1), "name": "Ada", "password": "hash", "is_admin": int64(1), "settings": `{"theme":"dark"}`,
	})[0]
	u.SetRelation("posts", []*Model{load(t, reg, "Post", builder.Row{"id": int64(2), "status": "draft"})[0]})

	assert.Equal(t, map[string]any{
		"id":           int64(1),
		"name":         "Ada",
		"is_admin":     true,
		"settings":     map[string]any{"theme": "dark"},
		"display_name": "ADA",
		"posts":        []map[string]any{{"id": int64(2), "status": StatusDraft}},
	}, u.ToMap())
}

func TestUUIDKeys(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.MustRegister(&Schema{Name: "Token", KeyType: KeyUUID})
	mock.ExpectPrepare(`insert into "tokens" ("id", "name") values (?, ?)`).
		ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))

	tok, err := reg.Query("Token").Create(context.Background(), map[string]any{"name": "ci"})
	require.NoError(t, err)
	_, err = uuid.Parse(tok.Key().(string))
	assert.NoError(t, err)
	assert.True(t, tok.Exists())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteRestoreAndForceDelete(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	post := load(t, reg, "Post", builder.Row{"id": int64(10), "user_id": int64(1), "deleted_at": nil})[0]

	mock.ExpectPrepare(`update "posts" set "deleted_at" = ? where "id" = ?`).
		ExpectExec().WithArgs(stamp, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, post.Delete(ctx))
	assert.True(t, post.Trashed())
	assert.True(t, post.Exists())
	assert.True(t, post.IsClean())

	mock.ExpectExec(`update "posts" set "deleted_at" = ? where "id" = ?`).
		WithArgs(nil, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, post.Restore(ctx))
	assert.False(t, post.Trashed())

	mock.ExpectPrepare(`delete from "posts" where "id" = ?`).
		ExpectExec().WithArgs(10).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, post.ForceDelete(ctx))
	assert.False(t, post.Exists())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeletedRowsAreExcludedByDefault(t *testing.T) {
	reg, _ := newTestRegistry(t)

	sql, _, err := reg.Query("Post").Where("user_id", 1).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `select * from "posts" where "user_id" = ? and "posts"."deleted_at" is null`, sql)

	sql, _, err = reg.Query("Post").Where("user_id", 1).WithTrashed().ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `select * from "posts" where "user_id" = ?`, sql)

	sql, _, err = reg.Query("Post").OnlyTrashed().ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `select * from "posts" where "posts"."deleted_at" is not null`, sql)
}

func TestLazyRelationIsCached(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	post := load(t, reg, "Post", builder.Row{"id": int64(10), "user_id": int64(1)})[0]
	mock.ExpectPrepare(`select * from "users" where "users"."id" = ? limit 1`).
		ExpectQuery().WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Ada"))

	author, err := post.RelatedOne(ctx, "author")
	require.NoError(t, err)
	require.NotNil(t, author)
	assert.Equal(t, "Ada", author.Get("name"))
	assert.True(t, post.RelationLoaded("author"))
	assert.Same(t, author, post.Get("author"))

	again, err := post.RelatedOne(ctx, "author")
	require.NoError(t, err)
	assert.Same(t, author, again)

	_, err = post.Related(ctx, "editor")
	assert.ErrorIs(t, err, ErrUnknownRelation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrFail(t *testing.T) {
	reg, mock := newTestRegistry(t)
	mock.ExpectPrepare(`select * from "users" where "users"."id" = ? limit 1`).
		ExpectQuery().WithArgs(99).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := reg.Query("User").FindOrFail(context.Background(), 99)
	assert.ErrorIs(t, err, ErrModelNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []any{99}, nf.IDs)
}
