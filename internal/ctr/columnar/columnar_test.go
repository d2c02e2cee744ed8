package columnar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRow struct {
	ID      string
	Name    string
	Tags    []string
	Active  bool
	hidden  string //nolint:unused // exercises the unexported-field skip
	Skipped string `column:"-"`
}

func TestWriteRendersHeaderAndRows(t *testing.T) {
	rows := []sampleRow{
		{ID: "abc123", Name: "web", Tags: []string{"latest", "stable"}, Active: true, Skipped: "nope"},
		{ID: "def456", Name: "db", Tags: nil, Active: false, Skipped: "nope"},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rows))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "TAGS")
	assert.Contains(t, out, "ACTIVE")
	assert.NotContains(t, out, "SKIPPED")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "latest,stable")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
	assert.Contains(t, out, "-")
}

func TestWriteRenamesViaTag(t *testing.T) {
	type row struct {
		ID string `column:"IMAGE ID"`
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []row{{ID: "x"}}))
	assert.Contains(t, buf.String(), "IMAGE ID")
}

func TestWriteEmptySliceStillPrintsHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []sampleRow{}))
	assert.Contains(t, buf.String(), "NAME")
}

func TestWriteRejectsNonSlice(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, sampleRow{}))
}
