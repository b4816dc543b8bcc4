package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileOpTool manages files inside a confined root directory.
type FileOpTool struct {
	Root string
}

func NewFileOpTool(root string) *FileOpTool {
	absRoot, _ := filepath.Abs(root)
	return &FileOpTool{Root: absRoot}
}

func (f *FileOpTool) Name() string {
	return "file_op"
}

func (f *FileOpTool) Description() string {
	return "Manage files in the workspace: read, write, append, list, delete, mkdir, copy, and move."
}

func (f *FileOpTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write", "append", "list", "delete", "mkdir", "copy", "move", "exists"},
				"description": "The operation to perform",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "The file or directory path, relative to the workspace root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write (for 'write' and 'append')",
			},
			"dest": map[string]any{
				"type":        "string",
				"description": "The destination path (for 'copy' and 'move')",
			},
		},
		"required": []string{"op", "path"},
	}
}

// resolve joins a relative path onto the root and rejects escapes.
func (f *FileOpTool) resolve(p string) (string, error) {
	target := filepath.Join(f.Root, p)
	rel, err := filepath.Rel(f.Root, target)
	if err != nil || (len(rel) >= 2 && rel[:2] == "..") {
		return "", fmt.Errorf("unsafe path attempt: %s", p)
	}
	return target, nil
}

func (f *FileOpTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Op      string `json:"op"`
		Path    string `json:"path"`
		Content string `json:"content"`
		Dest    string `json:"dest"`
	}

	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	target, err := f.resolve(args.Path)
	if err != nil {
		return "", err
	}

	switch args.Op {
	case "read":
		data, err := os.ReadFile(target)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	case "write":
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(target, []byte(args.Content), 0644); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		return fmt.Sprintf("Successfully wrote %d bytes to %s", len(args.Content), args.Path), nil
	case "append":
		fh, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return "", fmt.Errorf("failed to open file: %w", err)
		}
		defer fh.Close()
		if _, err := fh.WriteString(args.Content); err != nil {
			return "", fmt.Errorf("failed to append: %w", err)
		}
		return fmt.Sprintf("Successfully appended %d bytes to %s", len(args.Content), args.Path), nil
	case "list":
		entries, err := os.ReadDir(target)
		if err != nil {
			return "", fmt.Errorf("failed to list directory: %w", err)
		}
		listing := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			typeStr := "file"
			if entry.IsDir() {
				typeStr = "dir"
			}
			listing = append(listing, map[string]any{"name": entry.Name(), "type": typeStr})
		}
		out, err := json.Marshal(listing)
		if err != nil {
			return "", fmt.Errorf("failed to encode listing: %w", err)
		}
		return string(out), nil
	case "delete":
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("failed to delete: %w", err)
		}
		return fmt.Sprintf("Successfully deleted %s", args.Path), nil
	case "mkdir":
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		return fmt.Sprintf("Successfully created directory %s", args.Path), nil
	case "copy":
		dest, err := f.resolve(args.Dest)
		if err != nil {
			return "", err
		}
		if err := copyFile(target, dest); err != nil {
			return "", fmt.Errorf("failed to copy: %w", err)
		}
		return fmt.Sprintf("Successfully copied %s to %s", args.Path, args.Dest), nil
	case "move":
		dest, err := f.resolve(args.Dest)
		if err != nil {
			return "", err
		}
		if err := os.Rename(target, dest); err != nil {
			return "", fmt.Errorf("failed to move: %w", err)
		}
		return fmt.Sprintf("Successfully moved %s to %s", args.Path, args.Dest), nil
	case "exists":
		if _, err := os.Stat(target); err != nil {
			return `{"exists": false}`, nil
		}
		return `{"exists": true}`, nil
	default:
		return "", fmt.Errorf("unknown op '%s', use read, write, append, list, delete, mkdir, copy, move, or exists", args.Op)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
