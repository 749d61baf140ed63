package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspaceRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	r := NewRegistry(5 * time.Second)
	require.NoError(t, RegisterCoreTools(r, Options{WorkspaceRoot: root}))
	return r, root
}

func TestResolvePathInWorkspace(t *testing.T) {
	root := t.TempDir()

	t.Run("should resolve relative paths", func(t *testing.T) {
		target, err := resolvePathInWorkspace(root, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "src", "main.go"), target)
	})

	t.Run("should reject traversal out of the workspace", func(t *testing.T) {
		_, err := resolvePathInWorkspace(root, "../outside.txt")
		assert.Error(t, err)

		_, err = resolvePathInWorkspace(root, "a/../../outside.txt")
		assert.Error(t, err)
	})

	t.Run("should reject absolute paths", func(t *testing.T) {
		_, err := resolvePathInWorkspace(root, "/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("should reject empty paths", func(t *testing.T) {
		_, err := resolvePathInWorkspace(root, "")
		assert.Error(t, err)
	})
}

func TestFileTools(t *testing.T) {
	r, root := newWorkspaceRegistry(t)
	ctx := context.Background()

	t.Run("should write then read a file", func(t *testing.T) {
		result := r.Execute(ctx, "write_file", map[string]interface{}{
			"path":    "notes/todo.md",
			"content": "fix the build",
		}, allowAll)
		require.True(t, result.Success, result.Error)

		result = r.Execute(ctx, "read_file", map[string]interface{}{"path": "notes/todo.md"}, allowAll)
		require.True(t, result.Success, result.Error)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, "fix the build", data["content"])
		assert.Equal(t, false, data["truncated"])
	})

	t.Run("should append when asked", func(t *testing.T) {
		for _, chunk := range []string{"one\n", "two\n"} {
			result := r.Execute(ctx, "write_file", map[string]interface{}{
				"path":    "log.txt",
				"content": chunk,
				"append":  true,
			}, allowAll)
			require.True(t, result.Success, result.Error)
		}

		data, err := os.ReadFile(filepath.Join(root, "log.txt"))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("should truncate reads at max_bytes", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte("aaaaaaaaaa"), 0644))

		result := r.Execute(ctx, "read_file", map[string]interface{}{
			"path":      "big.txt",
			"max_bytes": float64(4),
		}, allowAll)
		require.True(t, result.Success, result.Error)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, "aaaa", data["content"])
		assert.Equal(t, true, data["truncated"])
	})

	t.Run("should refuse to read outside the workspace", func(t *testing.T) {
		result := r.Execute(ctx, "read_file", map[string]interface{}{"path": "../secret"}, allowAll)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "escapes workspace")
	})

	t.Run("should list directory entries", func(t *testing.T) {
		result := r.Execute(ctx, "list_dir", map[string]interface{}{"path": "notes"}, allowAll)
		require.True(t, result.Success, result.Error)

		data := result.Data.(map[string]interface{})
		entries := data["entries"].([]map[string]interface{})
		require.Len(t, entries, 1)
		assert.Equal(t, "todo.md", entries[0]["name"])
	})
}

func TestSearchFilesTool(t *testing.T) {
	r, root := newWorkspaceRegistry(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.go"), []byte("package main\n// FIXME handle error\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.go"), []byte("package main\n"), 0644))

	result := r.Execute(ctx, "search_files", map[string]interface{}{"query": "FIXME"}, allowAll)
	require.True(t, result.Success, result.Error)

	data := result.Data.(map[string]interface{})
	matches := data["matches"].([]map[string]interface{})
	require.Len(t, matches, 1)
	assert.Equal(t, filepath.Join("src", "a.go"), matches[0]["path"])
	assert.Equal(t, 2, matches[0]["line"])
}

func TestExecTool(t *testing.T) {
	r, _ := newWorkspaceRegistry(t)
	ctx := context.Background()

	t.Run("should capture stdout and exit code", func(t *testing.T) {
		result := r.Execute(ctx, "exec", map[string]interface{}{"command": "echo hello"}, allowAll)
		require.True(t, result.Success, result.Error)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, "hello\n", data["stdout"])
		assert.Equal(t, 0, data["exit_code"])
	})

	t.Run("should report non-zero exits without failing", func(t *testing.T) {
		result := r.Execute(ctx, "exec", map[string]interface{}{"command": "exit 3"}, allowAll)
		require.True(t, result.Success, result.Error)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, 3, data["exit_code"])
	})

	t.Run("should require a command", func(t *testing.T) {
		result := r.Execute(ctx, "exec", map[string]interface{}{"command": "  "}, allowAll)
		assert.False(t, result.Success)
	})
}
