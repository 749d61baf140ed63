package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create logger with file output", func(t *testing.T) {
		tmpDir, err := os.MkdirTemp("", "logger-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(tmpDir)

		logFile := filepath.Join(tmpDir, "agentd.log")
		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		defer l.Close()

		l.Info().Str("component", "test").Msg("hello")

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})

	t.Run("should fall back to info on invalid level", func(t *testing.T) {
		l, err := New(Config{Level: "nonsense", Console: true})
		require.NoError(t, err)
		defer l.Close()

		assert.NotNil(t, l.GetZerolog())
	})
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	t.Run("should redact API keys", func(t *testing.T) {
		out := r.Redact("key is sk-ant-REDACTED")
		assert.NotContains(t, out, "sk-ant-")
		assert.Contains(t, out, "[REDACTED]")
	})

	t.Run("should redact bearer tokens", func(t *testing.T) {
		out := r.Redact("Authorization: Bearer abc.def.ghi")
		assert.NotContains(t, out, "abc.def.ghi")
	})

	t.Run("should leave ordinary text alone", func(t *testing.T) {
		out := r.Redact("run completed in 3s")
		assert.Equal(t, "run completed in 3s", out)
	})

	t.Run("should accept custom patterns", func(t *testing.T) {
		require.NoError(t, r.AddPattern(`card-[0-9]+`))
		out := r.Redact("card-1234")
		assert.Equal(t, "[REDACTED]", out)
	})
}
