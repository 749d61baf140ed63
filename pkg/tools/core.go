package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
}

// RegisterCoreTools registers the baseline filesystem, shell and git tools.
func RegisterCoreTools(registry *Registry, opts Options) error {
	if opts.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}

	defs := []Definition{
		readFileTool(opts),
		writeFileTool(opts),
		listDirTool(opts),
		searchFilesTool(opts),
		execTool(opts),
		gitStatusTool(opts),
		gitDiffTool(opts),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

// resolvePathInWorkspace joins a relative path onto the workspace root and
// rejects anything that escapes it.
func resolvePathInWorkspace(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	target := filepath.Clean(filepath.Join(absRoot, rel))
	if target != absRoot && !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return target, nil
}

func readFileTool(opts Options) Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Default: 200000},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(200000)
			if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			f, err := os.Open(target)
			if err != nil {
				return nil, err
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
			if err != nil {
				return nil, err
			}

			truncated := int64(len(data)) > maxBytes
			if truncated {
				data = data[:maxBytes]
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) Definition {
	return Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func listDirTool(opts Options) Definition {
	return Definition{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			if pathValue == "" {
				pathValue = "."
			}
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			listing := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				info, err := e.Info()
				if err != nil {
					continue
				}
				listing = append(listing, map[string]interface{}{
					"name": e.Name(),
					"dir":  e.IsDir(),
					"size": info.Size(),
				})
			}

			return map[string]interface{}{
				"path":    pathValue,
				"entries": listing,
			}, nil
		},
	}
}

func searchFilesTool(opts Options) Definition {
	return Definition{
		Name:        "search_files",
		Description: "Search workspace files for a substring and return matching lines.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Substring to search for", Required: true},
			{Name: "path", Type: "string", Description: "Relative directory to search (default workspace root)"},
			{Name: "max_results", Type: "number", Description: "Maximum matches to return (default 50)", Default: 50},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}

			pathValue, _ := args["path"].(string)
			if pathValue == "" {
				pathValue = "."
			}
			root, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			maxResults := 50
			if raw, ok := args["max_results"].(float64); ok && raw > 0 {
				maxResults = int(raw)
			}

			matches := []map[string]interface{}{}

			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				name := d.Name()
				if d.IsDir() {
					if name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".") && name != "." {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= maxResults {
					return filepath.SkipAll
				}

				data, err := os.ReadFile(path)
				if err != nil || bytes.IndexByte(data, 0) >= 0 {
					// Unreadable or binary, skip.
					return nil
				}

				rel, _ := filepath.Rel(root, path)
				for i, line := range strings.Split(string(data), "\n") {
					if strings.Contains(line, query) {
						matches = append(matches, map[string]interface{}{
							"path": rel,
							"line": i + 1,
							"text": strings.TrimSpace(line),
						})
						if len(matches) >= maxResults {
							break
						}
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"query":   query,
				"matches": matches,
			}, nil
		},
	}
}

func execTool(opts Options) Definition {
	return Definition{
		Name:        "exec",
		Description: "Execute a shell command inside the workspace.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "Command to execute", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory (relative to workspace)"},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds (default 30)"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}

			dir := opts.WorkspaceRoot
			if cwd, ok := args["cwd"].(string); ok && cwd != "" {
				resolved, err := resolvePathInWorkspace(opts.WorkspaceRoot, cwd)
				if err != nil {
					return nil, err
				}
				dir = resolved
			}

			timeout := 30 * time.Second
			if raw, ok := args["timeout"].(float64); ok && raw > 0 {
				timeout = time.Duration(raw * float64(time.Second))
			}

			execCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return runCommand(execCtx, dir, "sh", "-c", command)
		},
	}
}

func gitStatusTool(opts Options) Definition {
	return Definition{
		Name:        "git_status",
		Description: "Show the git status of the workspace.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return runCommand(ctx, opts.WorkspaceRoot, "git", "status", "--porcelain=v1", "--branch")
		},
	}
}

func gitDiffTool(opts Options) Definition {
	return Definition{
		Name:        "git_diff",
		Description: "Show uncommitted changes in the workspace.",
		Parameters: []Parameter{
			{Name: "staged", Type: "boolean", Description: "Diff the index instead of the worktree"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			gitArgs := []string{"diff"}
			if staged, _ := args["staged"].(bool); staged {
				gitArgs = append(gitArgs, "--cached")
			}
			return runCommand(ctx, opts.WorkspaceRoot, "git", gitArgs...)
		},
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) (interface{}, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	return map[string]interface{}{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}
