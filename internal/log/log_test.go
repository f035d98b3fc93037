package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "k", "v")
	Error("shown error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn k=v")
	assert.Contains(t, out, "[ERROR] shown error err=boom")
}

func TestKeyValueQuoting(t *testing.T) {
	buf := capture(t, LevelDebug)

	Info("capture stored", "url", "https://example.com/x", "title", "Intro Part 2", "n", 3, "dangling")

	out := buf.String()
	require.Contains(t, out, "url=https://example.com/x")
	assert.Contains(t, out, `title="Intro Part 2"`)
	assert.Contains(t, out, "n=3")
	assert.NotContains(t, out, "dangling")
}
