package orm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Priority int

const (
	PriorityLow  Priority = 1
	PriorityHigh Priority = 2
)

func TestCastRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 5, 14, 30, 15, 999, time.FixedZone("CET", 3600))

	tests := []struct {
		name   string
		cast   Cast
		in     any
		stored any
		out    any
	}{
		{name: "int from string", cast: Int, in: "42", stored: int64(42), out: int64(42)},
		{name: "float", cast: Float, in: 2, stored: 2.0, out: 2.0},
		{name: "bool true", cast: Bool, in: true, stored: int64(1), out: true},
		{name: "bool false", cast: Bool, in: "false", stored: int64(0), out: false},
		{name: "string", cast: String, in: 12, stored: "12", out: "12"},
		{name: "datetime", cast: Datetime, in: when, stored: "2024-03-05 13:30:15", out: time.Date(2024, 3, 5, 13, 30, 15, 0, time.UTC)},
		{name: "date", cast: Date, in: "2024-03-05", stored: "2024-03-05", out: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{name: "json", cast: JSON, in: map[string]any{"tags": []string{"a"}}, stored: `{"tags":["a"]}`, out: map[string]any{"tags": []any{"a"}}},
		{name: "string enum", cast: Enum(StatusDraft, StatusPublished), in: StatusPublished, stored: "published", out: StatusPublished},
		{name: "enum from scalar", cast: Enum(StatusDraft, StatusPublished), in: "draft", stored: "draft", out: StatusDraft},
		{name: "int enum", cast: Enum(PriorityLow, PriorityHigh), in: PriorityHigh, stored: int64(2), out: PriorityHigh},
		{name: "nil passes through", cast: Int, in: nil, stored: nil, out: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := tt.cast.Set(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, stored)

			out, err := tt.cast.Get(stored)
			require.NoError(t, err)
			assert.Equal(t, tt.out, out)
		})
	}
}

func TestCastRejectsInvalidValues(t *testing.T) {
	_, err := Int.Set("forty")
	assert.ErrorIs(t, err, ErrCast)

	_, err = JSON.Get("{not json")
	assert.ErrorIs(t, err, ErrCast)

	status := Enum(StatusDraft, StatusPublished)
	_, err = status.Set(Status("archived"))
	assert.ErrorIs(t, err, ErrCast)
	_, err = status.Set("archived")
	assert.ErrorIs(t, err, ErrCast)
	_, err = status.Get("archived")
	assert.ErrorIs(t, err, ErrCast)
}

func TestModelSetRejectsBadCast(t *testing.T) {
	reg, _ := newTestRegistry(t)
	post, err := reg.New("Post")
	require.NoError(t, err)

	assert.ErrorIs(t, post.Set("status", "archived"), ErrCast)
	require.NoError(t, post.Set("status", StatusPublished))
	assert.Equal(t, "published", post.Raw("status"))
	assert.Equal(t, StatusPublished, post.Get("status"))
}
