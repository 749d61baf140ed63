package contextstore

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTaskLog(t *testing.T) *TaskLog {
	t.Helper()
	tl, err := NewTaskLog(t.TempDir())
	require.NoError(t, err)
	return tl
}

func TestTaskLogInitialize(t *testing.T) {
	tl := newTestTaskLog(t)

	t.Run("should create the context file once", func(t *testing.T) {
		require.NoError(t, tl.InitializeContext("card-1", "Fix login bug", "reviewer"))

		raw, err := tl.ReadContext("card-1")
		require.NoError(t, err)
		assert.Contains(t, raw, "# Fix login bug")
		assert.Contains(t, raw, "Card-ID: card-1")
		assert.Contains(t, raw, "## Instructions")
	})

	t.Run("should not overwrite an existing file", func(t *testing.T) {
		require.NoError(t, tl.LogStatus("card-1", "started"))
		require.NoError(t, tl.InitializeContext("card-1", "Different title", "coder"))

		raw, err := tl.ReadContext("card-1")
		require.NoError(t, err)
		assert.Contains(t, raw, "# Fix login bug")
		assert.Contains(t, raw, "status: started")
	})

	t.Run("should reject path-traversal card ids", func(t *testing.T) {
		assert.Error(t, tl.InitializeContext("../evil", "t", "a"))
		assert.Error(t, tl.LogStatus("a/b", "x"))
	})
}

func TestTaskLogEntries(t *testing.T) {
	tl := newTestTaskLog(t)
	require.NoError(t, tl.InitializeContext("card-2", "Refactor", "coder"))

	require.NoError(t, tl.LogToolCall("card-2", "read_file", `{"path":"main.go"}`))
	require.NoError(t, tl.LogToolResult("card-2", "read_file", true, "312 bytes"))
	require.NoError(t, tl.LogToolResult("card-2", "exec", false, "exit 1"))
	require.NoError(t, tl.LogError("card-2", "gateway timeout"))
	require.NoError(t, tl.LogCompletion("card-2", "coder", "All done."))

	raw, err := tl.ReadContext("card-2")
	require.NoError(t, err)
	assert.Contains(t, raw, "tool call: `read_file`")
	assert.Contains(t, raw, "tool result: `read_file` ok")
	assert.Contains(t, raw, "tool result: `exec` failed")
	assert.Contains(t, raw, "error: gateway timeout")
	assert.Contains(t, raw, "**Agent coder")
	assert.Contains(t, raw, "All done.")
}

func TestTaskLogInstructions(t *testing.T) {
	tl := newTestTaskLog(t)

	t.Run("should return empty when nothing was written", func(t *testing.T) {
		require.NoError(t, tl.InitializeContext("card-3", "Task", "coder"))

		instructions, err := tl.GetInstructions("card-3")
		require.NoError(t, err)
		assert.Empty(t, instructions)
	})

	t.Run("should return empty for a missing file", func(t *testing.T) {
		instructions, err := tl.GetInstructions("card-none")
		require.NoError(t, err)
		assert.Empty(t, instructions)
	})

	t.Run("should extract the instructions section", func(t *testing.T) {
		require.NoError(t, tl.InitializeContext("card-4", "Task", "coder"))

		// Simulate an operator editing the file.
		raw, err := tl.ReadContext("card-4")
		require.NoError(t, err)
		edited := strings.Replace(raw, "## Instructions\n", "## Instructions\n\nPrefer small commits.\nRun the linter.\n", 1)
		require.NoError(t, os.WriteFile(tl.path("card-4"), []byte(edited), 0600))

		instructions, err := tl.GetInstructions("card-4")
		require.NoError(t, err)
		assert.Equal(t, "Prefer small commits.\nRun the linter.", instructions)
	})
}

func TestParseConversation(t *testing.T) {
	t.Run("should map human and agent turns", func(t *testing.T) {
		raw := `# Task
Card-ID: card-5

## Activity Log

- [2026-08-23T10:00:00Z] status: started

**Human (2026-08-23T10:01:00Z):**
Please rename the module.

**Agent coder (2026-08-23T10:02:00Z):**
Renamed and updated imports.

- [2026-08-23T10:03:00Z] status: completed
`
		messages := ParseConversation(raw)
		require.Len(t, messages, 2)

		assert.Equal(t, "user", messages[0].Role)
		assert.Equal(t, "Please rename the module.", messages[0].Content)

		assert.Equal(t, "assistant", messages[1].Role)
		assert.Equal(t, "coder", messages[1].Agent)
		assert.Equal(t, "Renamed and updated imports.", messages[1].Content)
	})

	t.Run("should skip empty turns and log noise", func(t *testing.T) {
		raw := "**Human (x):**\n\n\n- [t] status: done\n"
		assert.Empty(t, ParseConversation(raw))
	})

	t.Run("should handle multi-line turns", func(t *testing.T) {
		raw := "**Agent coder (t):**\nline one\nline two\n"
		messages := ParseConversation(raw)
		require.Len(t, messages, 1)
		assert.Equal(t, "line one\nline two", messages[0].Content)
	})
}
