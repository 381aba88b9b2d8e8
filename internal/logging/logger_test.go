package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLogger_KeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.Info("segment written", "path", "/t/x.0000", "blocks", 3, "error", errors.New("boom"), "dangling")

	m := decodeLine(t, &buf)
	assert.Equal(t, "segment written", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "/t/x.0000", m["path"])
	assert.Equal(t, float64(3), m["blocks"])
	assert.Equal(t, "boom", m["error"])
	assert.NotContains(t, m, "dangling")
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(zerolog.InfoLevel))
	assert.True(t, l.Enabled(zerolog.ErrorLevel))
}

func TestLogger_WithAndContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, zerolog.InfoLevel).With("component", "storage")

	ctx := WithLogger(context.Background(), base)
	ctx = WithJobID(ctx, "job-1")
	ctx = WithTable(ctx, "mem://t.frame_idx")
	FromContext(ctx).Info("save finished")

	m := decodeLine(t, &buf)
	assert.Equal(t, "storage", m["component"])
	assert.Equal(t, "job-1", m["job_id"])
	assert.Equal(t, "mem://t.frame_idx", m["table"])
	assert.Equal(t, "job-1", JobID(ctx))
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	prev := Global()
	SetGlobal(NewWithWriter(&buf, zerolog.InfoLevel))
	defer SetGlobal(prev)

	FromContext(context.Background()).Info("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sframe.log")
	l, err := NewFromConfig(config.LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	assert.True(t, l.Enabled(zerolog.DebugLevel))

	_, err = NewFromConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
