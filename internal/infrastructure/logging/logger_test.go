package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		payload := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &payload), line)
		out = append(out, payload)
	}
	return out
}

func TestLoggerIncludesCorrelationIDAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Level: "debug", Component: "runner"})
	require.NoError(t, err)

	ctx := WithCorrelationID(context.Background(), "abc123")
	logger.Info(ctx, "audit started", "audit_id", "a-1", "error", errors.New("none"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "runner", lines[0]["component"])
	assert.Equal(t, "abc123", lines[0]["correlation_id"])
	assert.Equal(t, "a-1", lines[0]["audit_id"])
	assert.Equal(t, "none", lines[0]["error"])
	assert.Equal(t, "audit started", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestLoggerWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	child := logger.With("component", "planner", 42, "ignored")
	child.Warn(context.Background(), "invalid action", "index", 1)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "planner", lines[0]["component"])
	assert.Equal(t, float64(1), lines[0]["index"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Level: "warn"})
	require.NoError(t, err)

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden")
	logger.Error(context.Background(), "shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Format: FormatConsole})
	require.NoError(t, err)

	logger.Info(context.Background(), "hello", "strategy_id", "dummy")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "dummy")
}

func TestBufferReplaysInOrder(t *testing.T) {
	buffer := NewBuffer(2)
	early := buffer.Logger().With("component", "config")
	early.Info(context.Background(), "first")
	early.Warn(context.Background(), "second")
	early.Error(context.Background(), "third")
	assert.Equal(t, 2, buffer.Len())

	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)
	buffer.Flush(logger)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "second", lines[0]["message"])
	assert.Equal(t, "third", lines[1]["message"])
	assert.Equal(t, "config", lines[1]["component"])
	assert.Equal(t, 0, buffer.Len())
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	logger.Info(context.Background(), "ignored")
	assert.Same(t, logger, logger.With("k", "v"))
}
