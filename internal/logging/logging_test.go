package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(&buf, Options{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "path", "a.pdf")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "a.pdf", rec["path"])
}

func TestRejectsBadOptions(t *testing.T) {
	_, err := newWithWriter(&bytes.Buffer{}, Options{Level: "loud"})
	assert.Error(t, err)
	_, err = newWithWriter(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "docqa.log")
	logger, closeFn, err := New(Options{File: path})
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
