package sqltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{name: "none", sql: "select * from users", want: 0},
		{name: "plain", sql: "select * from users where id = ? and name = ?", want: 2},
		{name: "in list", sql: "id in (?, ?, ?)", want: 3},
		{name: "inside string", sql: "name = '?' and id = ?", want: 1},
		{name: "escaped quote", sql: "name = 'it''s ?' and id = ?", want: 1},
		{name: "quoted identifier", sql: `"what?" = ?`, want: 1},
		{name: "backtick identifier", sql: "`what?` = ?", want: 1},
		{name: "line comment", sql: "id = ? -- why?\n and x = ?", want: 2},
		{name: "block comment", sql: "/* any? */ id = ?", want: 1},
		{name: "minus and divide", sql: "a - ? / 2", want: 1},
		{name: "unterminated quote", sql: "a = 'b and c = ?", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountPlaceholders(tt.sql))
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "select 1", Rebind("select 1"))
	assert.Equal(t,
		`select * from "users" where "id" = $1 and "name" = '?' and "age" > $2`,
		Rebind(`select * from "users" where "id" = ? and "name" = '?' and "age" > ?`),
	)
}
