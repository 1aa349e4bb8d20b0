package debug

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutput(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stderr, false) })

	var buf bytes.Buffer
	SetOutput(&buf, false)
	Debug("hidden", "k", 1)
	Warn("hidden too")
	assert.Empty(t, buf.String())
	assert.False(t, Enabled())

	SetOutput(&buf, true)
	Debug("query executed", "sql", "select 1")
	assert.True(t, Enabled())
	assert.Contains(t, buf.String(), "query executed")
	assert.Contains(t, buf.String(), `sql="select 1"`)
}
