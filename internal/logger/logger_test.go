package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Info("block committed", KeyBlockID, int64(42), KeyDir, 1)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "block committed")
	assert.Contains(t, out, "block_id=42")
	assert.Contains(t, out, "dir=1")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(&buf, "INFO", "text")

	Warn("page missing", KeyFileID, "blk-7", KeyPageIndex, 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "page missing", record["msg"])
	assert.Equal(t, "blk-7", record["file_id"])
	assert.Equal(t, float64(3), record["page_index"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Debug("not shown")
	Info("not shown either")
	Error("shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "shown")
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	SetLevel("VERBOSE") // no such level, config stays at INFO
	Info("still logged")
	require.True(t, strings.Contains(buf.String(), "still logged"))
}

func TestPrintfVariants(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Infof("loaded %d files from %s", 10, "/data")
	assert.Contains(t, buf.String(), "loaded 10 files from /data")
}

func TestTextHandlerGroupsAndBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	l := slog.New(newTextHandler(&buf, &level, false))

	l.WithGroup("store").With(KeyDir, 1).Info("dir ready", "free", 4096)

	out := buf.String()
	assert.Contains(t, out, "store.dir=1")
	assert.Contains(t, out, "store.free=4096")
}

func TestTextHandlerQuotesAwkwardValues(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Info("load failed", KeyError, "no such file: /data/a b")

	assert.Contains(t, buf.String(), `error="no such file: /data/a b"`)
}
