package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, []mapping{
		{Subject: "/O=A&B/CN=a", Username: "x"},
		{Subject: "b", Username: "y"},
	}))

	out := buf.String()
	assert.Contains(t, out, `"subject": "/O=A&B/CN=a"`)
	assert.Contains(t, out, `"subject": "b"`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, []mapping{
		{Subject: "/O=Grid/CN=Alice", Username: "alice"},
	}))

	assert.Equal(t, "- subject: /O=Grid/CN=Alice\n  username: alice\n", buf.String())
}

func TestEmptyListings(t *testing.T) {
	var none []mapping

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, none))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintYAML(&buf, none))
	assert.Equal(t, "[]\n", buf.String())
}
