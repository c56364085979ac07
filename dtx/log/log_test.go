//go:build unit

package log

import (
	"bytes"
	"context"
	"errors"
	stdlog "log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"ERROR":   LevelError,
	}

	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestLevelOrdering(t *testing.T) {
	logger := NewGoLogger(LevelInfo)

	assert.True(t, logger.Enabled(LevelError))
	assert.True(t, logger.Enabled(LevelWarn))
	assert.True(t, logger.Enabled(LevelInfo))
	assert.False(t, logger.Enabled(LevelDebug))
}

func TestErrField(t *testing.T) {
	field := Err(errors.New("boom"))
	assert.Equal(t, "error", field.Key)
	assert.Equal(t, "boom", field.Value)

	nilField := Err(nil)
	assert.Equal(t, "error", nilField.Key)
	assert.Nil(t, nilField.Value)
}

func TestGoLoggerSanitizesControlChars(t *testing.T) {
	var buf bytes.Buffer

	prev := stdlog.Writer()
	stdlog.SetOutput(&buf)

	defer stdlog.SetOutput(prev)

	logger := NewGoLogger(LevelDebug)
	logger.Log(context.Background(), LevelInfo, "line1\nline2", String("key", "a\tb"))

	out := buf.String()
	assert.Contains(t, out, `line1\nline2`)
	assert.Contains(t, out, `key=a\tb`)
	assert.NotContains(t, out, "\t")
}

func TestGoLoggerWithGroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer

	prev := stdlog.Writer()
	stdlog.SetOutput(&buf)

	defer stdlog.SetOutput(prev)

	logger := NewGoLogger(LevelDebug).WithGroup("relay").With(Int("batch", 3))
	logger.Log(context.Background(), LevelInfo, "scan finished")

	assert.Contains(t, buf.String(), "relay.batch=3")
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()

	assert.False(t, logger.Enabled(LevelError))
	require.NoError(t, logger.Sync(context.Background()))
	assert.Same(t, logger, logger.With(String("a", "b")))
	assert.Same(t, logger, logger.WithGroup("g"))
}

func TestSafeErrorToleratesNil(t *testing.T) {
	SafeError(nil, context.Background(), "msg", errors.New("x"))
	SafeError(NewNop(), context.Background(), "msg", nil)
}
