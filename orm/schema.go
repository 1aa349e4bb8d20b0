package orm

import (
	"github.com/go-openapi/inflect"
)

// KeyType selects how primary keys are assigned on insert.
type KeyType int

const (
	// KeyIncrementing lets the database generate integer keys.
	KeyIncrementing KeyType = iota
	// KeyUUID assigns a random UUID string before insert when the key is unset.
	KeyUUID
	// KeyManual requires the caller to set the key.
	KeyManual
)

// Schema describes one model type. Register it with a Registry before use; zero fields
// are filled with defaults at registration.
type Schema struct {
	// Name identifies the model, e.g. "BlogPost".
	Name string
	// Table defaults to the snake_case plural of Name ("blog_posts").
	Table string
	// PrimaryKey defaults to "id".
	PrimaryKey string
	KeyType    KeyType
	// Connection names the database connection; empty selects the default one.
	Connection string

	// Timestamps maintains CreatedAt and UpdatedAt columns (default created_at, updated_at).
	Timestamps bool
	CreatedAt  string
	UpdatedAt  string

	Casts     map[string]Cast
	Accessors map[string]Accessor
	// Fillable limits Fill to these attributes when non-empty.
	Fillable []string
	// Hidden attributes are left out of ToMap.
	Hidden []string
	// Rules are checked by the registry's validator on every save.
	Rules map[string][]string
	// Sortable lists the columns allowed as pagination cursors.
	Sortable []string
	// PerPage is the default page size. Defaults to 15.
	PerPage int

	Relations map[string]RelationFunc

	// SoftDelete enables soft deletes when set.
	SoftDelete *SoftDelete
}

// boot fills defaults.
func (s *Schema) boot() {
	if s.Table == "" {
		s.Table = inflect.Underscore(inflect.Pluralize(s.Name))
	}
	if s.PrimaryKey == "" {
		s.PrimaryKey = "id"
	}
	if s.CreatedAt == "" {
		s.CreatedAt = "created_at"
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = "updated_at"
	}
	if s.PerPage == 0 {
		s.PerPage = 15
	}
	if s.SoftDelete != nil && s.SoftDelete.Column == "" {
		s.SoftDelete.Column = "deleted_at"
	}
}

// Qualify prefixes column with the schema's table.
func (s *Schema) Qualify(column string) string {
	return s.Table + "." + column
}

// ForeignKey is the conventional foreign key referencing this schema, e.g. "blog_post_id".
func (s *Schema) ForeignKey() string {
	return inflect.Underscore(s.Name) + "_" + s.PrimaryKey
}

func (s *Schema) fillable(key string) bool {
	if len(s.Fillable) == 0 {
		return true
	}
	for _, f := range s.Fillable {
		if f == key {
			return true
		}
	}
	return false
}

func (s *Schema) hidden(key string) bool {
	for _, h := range s.Hidden {
		if h == key {
			return true
		}
	}
	return false
}
