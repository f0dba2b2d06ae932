package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "WARN", Out: &buf})

	l.Debug("调试")
	l.Info("信息")
	l.Warn("警告", "url", "http://shop.test/", "elapsed", 1500*time.Millisecond, "count", 3)
	l.Err(errors.New("boom"), "失败", "cause", errors.New("inner"))
	l.Error("缺值", "dangling")

	got := lines(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "警告", got[0]["message"])
	assert.Equal(t, "http://shop.test/", got[0]["url"])
	assert.EqualValues(t, 1500, got[0]["elapsed"])
	assert.EqualValues(t, 3, got[0]["count"])
	assert.Equal(t, "boom", got[1]["error"])
	assert.Equal(t, "inner", got[1]["cause"])
	assert.Equal(t, "MISSING", got[2]["dangling"])
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Out: &buf}).With("run", "r1", "session", "s1")
	l.Debug("步骤完成", "index", 2)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0]["run"])
	assert.Equal(t, "s1", got[0]["session"])
	assert.EqualValues(t, 2, got[0]["index"])
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "loud", Out: &buf})
	l.Debug("hidden")
	l.Info("shown")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
}

func TestConsoleAndFileWriters(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	l := New(Options{Writers: []string{"console", "file"}, File: path, Out: &buf})
	l.Info("控制台", "k", "v")
	assert.Contains(t, buf.String(), "控制台")
	assert.Contains(t, buf.String(), "k=")
	assert.FileExists(t, path)
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("x")
	l.Err(errors.New("y"), "z")
	assert.Equal(t, l, l.With("a", 1))
}
