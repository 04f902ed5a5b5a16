package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ModeText, &buf, slog.LevelInfo).With("component", "builder")

	logger.Debug("hidden")
	logger.Info("step", "name", "dependencies", "error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO ")
	assert.Contains(t, out, "| step component=builder name=dependencies error=boom\n")
}

func TestTextHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ModeText, &buf, slog.LevelInfo).With("component", "api")

	logger.WithGroup("build").With("id", "b1").Info("finished",
		"state", "ready",
		slog.Group("image", "tag", "lighthouse/svc:latest"),
	)
	logger.Info("request", slog.Group("req", "method", "GET", "path", "/x"), slog.Group("empty"))
	logger.WithGroup("unused").Info("bare")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "| finished component=api build.id=b1 build.state=ready build.image.tag=lighthouse/svc:latest"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "| request component=api req.method=GET req.path=/x"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], "| bare component=api"), lines[2])
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	New(ModeJSON, &buf, nil).Info("ready", "port", 9000)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ready", rec["msg"])
	assert.EqualValues(t, 9000, rec["port"])
}

func TestParse(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)

	mode, err := ParseMode("JSON")
	require.NoError(t, err)
	assert.Equal(t, ModeJSON, mode)

	_, err = ParseMode("xml")
	assert.Error(t, err)
}

func TestEnsure(t *testing.T) {
	assert.Same(t, slog.Default(), Ensure(nil))
	l := Discard()
	assert.Same(t, l, Ensure(l))
}
